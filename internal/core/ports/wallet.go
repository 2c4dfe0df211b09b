package ports

// Transaction is the opaque unit handed back by the funding service. The
// core only ever forwards it and extracts its id.
type Transaction struct {
	TxId   string
	Raw    []byte
	Inputs []TxInput
}

// TxInput references a funding input contributed by one side of a trade.
type TxInput struct {
	TxId   string
	Vout   uint32
	Amount uint64
}

// WalletService is the funding collaborator of the trade protocol. All
// construction and scripting details live behind it; the protocol only
// depends on these callback contracts and on transaction-id extraction.
type WalletService interface {
	CreateFeeTransaction(amount uint64, feeAsset string) (Transaction, error)
	// CreateDepositTransaction builds the unsigned multi-signature escrow
	// funding transaction from both parties' keys and inputs.
	CreateDepositTransaction(
		amount uint64, makerPubKey, takerPubKey []byte, peerInputs []TxInput,
	) (Transaction, error)
	// CreatePayoutTransaction spends the escrow back to both parties.
	CreatePayoutTransaction(
		deposit Transaction, makerPubKey, takerPubKey []byte,
	) (Transaction, error)
	SignInputs(tx Transaction) (Transaction, error)
	// BroadcastTransaction publishes tx to the funding network; done fires
	// with the confirmed transaction id or the broadcast error.
	BroadcastTransaction(tx Transaction, done func(txId string, err error))
	Balance() (uint64, error)
}
