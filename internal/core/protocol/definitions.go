package protocol

import (
	"fmt"

	"github.com/peerdex-network/peerdex-daemon/internal/core/domain"
)

// TakerDefinition is the instant-swap protocol as walked by the taker: pay
// the fee, request the offer, co-sign and publish the escrow funding, then
// wait for the maker's payout.
func TakerDefinition() Definition {
	return Definition{
		{
			Name:      "taker/take-offer",
			FromState: domain.TradeStatusCodePreparation,
			ToState:   domain.TradeStatusCodeTakeRequested,
			Tasks: []TaskFactory{
				takerApplyFilter,
				takerCreateFeeTx,
				takerPublishFeeTx,
				takerSendTakeOfferRequest,
			},
			AwaitTimeout: DefaultAwaitTimeout,
		},
		{
			Name:      "taker/fund-escrow",
			ExpectMsg: MsgTakeOfferResponse,
			FromState: domain.TradeStatusCodeTakeRequested,
			ToState:   domain.TradeStatusCodeDepositPublished,
			Tasks: []TaskFactory{
				takerVerifyMakerResponse,
				takerSignDeposit,
				takerPublishDeposit,
				takerSendDepositPublished,
			},
			AwaitTimeout: DefaultAwaitTimeout,
		},
		{
			Name:      "taker/settle",
			ExpectMsg: MsgPayoutPublished,
			FromState: domain.TradeStatusCodeDepositPublished,
			ToState:   domain.TradeStatusCodeCompleted,
			Tasks: []TaskFactory{
				takerVerifyPayout,
			},
		},
	}
}

// MakerDefinition is the instant-swap protocol as walked by the maker: vet
// the take request, lock the offer, hand over the half-signed escrow
// funding, then settle with the payout once the escrow is on the network.
func MakerDefinition() Definition {
	return Definition{
		{
			Name:      "maker/answer-take-request",
			ExpectMsg: MsgTakeOfferRequest,
			FromState: domain.TradeStatusCodePreparation,
			ToState:   domain.TradeStatusCodeDepositSigned,
			Tasks: []TaskFactory{
				makerApplyFilter,
				makerVerifyTakerFee,
				makerWithdrawOffer,
				makerCreateDeposit,
				makerSignDeposit,
				makerSendTakeOfferResponse,
			},
			AwaitTimeout: DefaultAwaitTimeout,
		},
		{
			Name:      "maker/settle",
			ExpectMsg: MsgDepositPublished,
			FromState: domain.TradeStatusCodeDepositSigned,
			ToState:   domain.TradeStatusCodeCompleted,
			Tasks: []TaskFactory{
				makerVerifyDepositPublished,
				makerCreatePayout,
				makerSignPayout,
				makerPublishPayout,
				makerSendPayoutPublished,
			},
		},
	}
}

// DefinitionFor returns the protocol definition for the given trade role.
func DefinitionFor(role string) (Definition, error) {
	switch role {
	case domain.RoleMaker:
		return MakerDefinition(), nil
	case domain.RoleTaker:
		return TakerDefinition(), nil
	default:
		return nil, fmt.Errorf("unknown trade role %s", role)
	}
}
