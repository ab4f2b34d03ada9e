package grvt

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// EIP-712 domain the exchange verifies order signatures against.
const (
	signingDomainName    = "GRVT Exchange"
	signingDomainVersion = "0"

	// priceMultiplier scales decimal limit prices into the uint256 wire
	// representation (9 implied decimals).
	priceMultiplier = 9
)

var envChainID = map[Env]int64{
	EnvProd:    325,
	EnvTestnet: 326,
	EnvDev:     327,
}

var timeInForceCode = map[TimeInForce]int64{
	TimeInForceGoodTillTime:      1,
	TimeInForceImmediateOrCancel: 3,
}

var currencyCode = map[string]int64{
	"USD":  1,
	"USDC": 2,
	"USDT": 3,
}

// Signer holds one account's signing key and produces EIP-712 signatures for
// orders and transfers.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    string
	chainID    int64
}

// NewSigner parses a hex private key for the given environment.
func NewSigner(env Env, privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, ErrMissingPrivateKey
	}
	chainID, ok := envChainID[env]
	if !ok {
		return nil, errors.Errorf("grvt: no chain id for env %q", env)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "grvt: parse private key")
	}
	return &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		chainID:    chainID,
	}, nil
}

// Address returns the signer's ethereum address.
func (s *Signer) Address() string { return s.address }

func (s *Signer) domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:    signingDomainName,
		Version: signingDomainVersion,
		ChainId: math.NewHexOrDecimal256(s.chainID),
	}
}

func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
}

// scaleToUint converts a decimal value into an integer with the given number
// of implied decimals, rejecting values that do not fit exactly.
func scaleToUint(v decimal.Decimal, decimals int32) (*big.Int, error) {
	scaled := v.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, errors.Errorf("grvt: value %s does not fit %d implied decimals", v, decimals)
	}
	return scaled.BigInt(), nil
}

// SignOrder fills in order.Signature. The instrument metadata supplies the
// asset id and size scaling; signature fields V/R/S follow the 65-byte
// secp256k1 layout with V normalized to 27/28.
func (s *Signer) SignOrder(order *Order, instrument *Instrument) error {
	if len(order.Legs) == 0 {
		return errors.New("grvt: cannot sign order without legs")
	}
	if order.Signature == nil {
		return errors.New("grvt: order signature envelope (nonce/expiration) not prepared")
	}
	if instrument == nil || instrument.InstrumentHash == "" {
		return errors.Errorf("grvt: missing instrument hash for %s", order.Legs[0].Instrument)
	}
	assetID, ok := new(big.Int).SetString(strings.TrimPrefix(instrument.InstrumentHash, "0x"), 16)
	if !ok {
		return errors.Errorf("grvt: invalid instrument hash %q", instrument.InstrumentHash)
	}

	legs := make([]map[string]interface{}, 0, len(order.Legs))
	for _, leg := range order.Legs {
		size, err := scaleToUint(leg.Size, int32(instrument.BaseDecimals))
		if err != nil {
			return err
		}
		price, err := scaleToUint(leg.LimitPrice, priceMultiplier)
		if err != nil {
			return err
		}
		legs = append(legs, map[string]interface{}{
			"assetID":          assetID,
			"contractSize":     size,
			"limitPrice":       price,
			"isBuyingContract": leg.IsBuyingAsset,
		})
	}

	subAccountID, ok := new(big.Int).SetString(order.SubAccountID, 10)
	if !ok {
		return errors.Errorf("grvt: invalid sub account id %q", order.SubAccountID)
	}
	expiration, ok := new(big.Int).SetString(order.Signature.Expiration, 10)
	if !ok {
		return errors.Errorf("grvt: invalid signature expiration %q", order.Signature.Expiration)
	}
	tif, ok := timeInForceCode[order.TimeInForce]
	if !ok {
		return errors.Errorf("grvt: unsupported time in force %q", order.TimeInForce)
	}

	typedData := apitypes.TypedData{
		Domain:      s.domain(),
		PrimaryType: "Order",
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"Order": {
				{Name: "subAccountID", Type: "uint64"},
				{Name: "isMarket", Type: "bool"},
				{Name: "timeInForce", Type: "uint8"},
				{Name: "postOnly", Type: "bool"},
				{Name: "reduceOnly", Type: "bool"},
				{Name: "legs", Type: "OrderLeg[]"},
				{Name: "nonce", Type: "uint32"},
				{Name: "expiration", Type: "int64"},
			},
			"OrderLeg": {
				{Name: "assetID", Type: "uint256"},
				{Name: "contractSize", Type: "uint64"},
				{Name: "limitPrice", Type: "uint64"},
				{Name: "isBuyingContract", Type: "bool"},
			},
		},
		Message: map[string]interface{}{
			"subAccountID": subAccountID,
			"isMarket":     order.IsMarket,
			"timeInForce":  big.NewInt(tif),
			"postOnly":     order.PostOnly,
			"reduceOnly":   order.ReduceOnly,
			"legs":         legs,
			"nonce":        big.NewInt(order.Signature.Nonce),
			"expiration":   expiration,
		},
	}

	r, sv, v, err := s.signTypedData(typedData)
	if err != nil {
		return err
	}
	order.Signature.Signer = s.address
	order.Signature.R = r
	order.Signature.S = sv
	order.Signature.V = v
	return nil
}

// SignTransfer fills in req.Signature for an internal transfer.
func (s *Signer) SignTransfer(req *TransferRequest) error {
	if req.Signature == nil {
		return errors.New("grvt: transfer signature envelope not prepared")
	}
	code, ok := currencyCode[strings.ToUpper(req.Currency)]
	if !ok {
		return errors.Errorf("grvt: unsupported transfer currency %q", req.Currency)
	}
	// Transfers carry 6 implied decimals on the token amount.
	numTokens, err := scaleToUint(req.NumTokens, 6)
	if err != nil {
		return err
	}
	fromSub, ok := new(big.Int).SetString(req.FromSubAccountID, 10)
	if !ok {
		return errors.Errorf("grvt: invalid from sub account id %q", req.FromSubAccountID)
	}
	toSub, ok := new(big.Int).SetString(req.ToSubAccountID, 10)
	if !ok {
		return errors.Errorf("grvt: invalid to sub account id %q", req.ToSubAccountID)
	}
	expiration, ok := new(big.Int).SetString(req.Signature.Expiration, 10)
	if !ok {
		return errors.Errorf("grvt: invalid signature expiration %q", req.Signature.Expiration)
	}

	typedData := apitypes.TypedData{
		Domain:      s.domain(),
		PrimaryType: "Transfer",
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"Transfer": {
				{Name: "fromAccount", Type: "address"},
				{Name: "fromSubAccount", Type: "uint64"},
				{Name: "toAccount", Type: "address"},
				{Name: "toSubAccount", Type: "uint64"},
				{Name: "tokenCurrency", Type: "uint8"},
				{Name: "numTokens", Type: "uint64"},
				{Name: "nonce", Type: "uint32"},
				{Name: "expiration", Type: "int64"},
			},
		},
		Message: map[string]interface{}{
			"fromAccount":    req.FromAccountID,
			"fromSubAccount": fromSub,
			"toAccount":      req.ToAccountID,
			"toSubAccount":   toSub,
			"tokenCurrency":  big.NewInt(code),
			"numTokens":      numTokens,
			"nonce":          big.NewInt(req.Signature.Nonce),
			"expiration":     expiration,
		},
	}

	r, sv, v, err := s.signTypedData(typedData)
	if err != nil {
		return err
	}
	req.Signature.Signer = s.address
	req.Signature.R = r
	req.Signature.S = sv
	req.Signature.V = v
	return nil
}

// signTypedData hashes \x19\x01 || domainSeparator || structHash and signs it.
func (s *Signer) signTypedData(typedData apitypes.TypedData) (r, sv string, v int, err error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return "", "", 0, errors.Wrap(err, "grvt: hash domain")
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return "", "", 0, errors.Wrap(err, "grvt: hash message")
	}
	rawData := []byte("\x19\x01")
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return "", "", 0, errors.Wrap(err, "grvt: sign")
	}
	// crypto.Sign returns r(32) || s(32) || v(1) with v in {0,1}; the
	// exchange expects the legacy 27/28 form.
	r = fmt.Sprintf("0x%x", sig[:32])
	sv = fmt.Sprintf("0x%x", sig[32:64])
	v = int(sig[64]) + 27
	return r, sv, v, nil
}
