package state

var (
	tokenPrefix       = []byte("token:")
	tokenListKeySeed  = []byte("token-list")
	balancePrefix     = []byte("balance:")
	noncePrefix       = []byte("nonce:")
	offerRecordPrefix = []byte("otc/offer:")
	offerIndexSeed    = []byte("otc/offer-index")
	vaultRecordPrefix = []byte("otc/vault:")
)
