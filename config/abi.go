package config

// Event names emitted by the USDTv1 prediction contracts. All contract
// instances share this ABI, so one topic table covers every address.
const (
	DepositedEvent           = "Deposited"
	ClaimedEvent             = "Claimed"
	PredictedEvent           = "Predicted"
	BackedEvent              = "Backed"
	BetSellInitiatedEvent    = "BetSellInitiated"
	SellingPriceChangedEvent = "SellingPriceChanged"
	BetSoldEvent             = "BetSold"
	PredictionSettledEvent   = "PredictionSettled"
	GameRegisteredEvent      = "GameRegistered"
	GameResolvedEvent        = "GameResolved"

	RevenueWithdrawnEvent           = "RevenueWithdrawn"
	ChargeFeesChangedEvent          = "ChargeFeesChanged"
	AddressWhitelistedEvent         = "AddressWhitelisted"
	OwnershipTransferInitiatedEvent = "OwnershipTransferInitiated"
	OwnershipTransferCompletedEvent = "OwnershipTransferCompleted"
)

// USDTv1EventsABI is the ABI fragment covering every USDTv1 event the
// ingestion pipeline handles.
const USDTv1EventsABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "user", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "Deposited",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "user", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "Claimed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "layer", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "result", "type": "uint256"}
		],
		"name": "Predicted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "backer", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "wager", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "result", "type": "uint256"}
		],
		"name": "Backed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "price", "type": "uint256"}
		],
		"name": "BetSellInitiated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "newPrice", "type": "uint256"}
		],
		"name": "SellingPriceChanged",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "buyer", "type": "address"}
		],
		"name": "BetSold",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "index", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"}
		],
		"name": "PredictionSettled",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"}
		],
		"name": "GameRegistered",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "matchId", "type": "uint256"}
		],
		"name": "GameResolved",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "RevenueWithdrawn",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "newPercentage", "type": "uint256"}
		],
		"name": "ChargeFeesChanged",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "account", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "addedBy", "type": "address"}
		],
		"name": "AddressWhitelisted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "currentOwner", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "futureOwner", "type": "address"}
		],
		"name": "OwnershipTransferInitiated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"}
		],
		"name": "OwnershipTransferCompleted",
		"type": "event"
	}
]`
