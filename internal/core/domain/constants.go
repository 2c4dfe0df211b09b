package domain

const (
	TradeStatusCodeUndefined = iota
	TradeStatusCodePreparation
	TradeStatusCodeFeePublished
	TradeStatusCodeTakeRequested
	TradeStatusCodeDepositSigned
	TradeStatusCodeDepositPublished
	TradeStatusCodePayoutPublished
	TradeStatusCodeCompleted
)

const (
	OfferDirectionBuy  = "BUY"
	OfferDirectionSell = "SELL"
)

const (
	// RoleMaker marks the side that published the offer being traded.
	RoleMaker = "MAKER"
	// RoleTaker marks the side that took the offer.
	RoleTaker = "TAKER"
)
