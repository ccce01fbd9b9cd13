// Package signing implements the domain-separated EIP-712 typed-data scheme
// that authorizes orders and cancellations off the critical path.
//
// The layer is stateless: it recovers the signer from a 65-byte secp256k1
// signature over the typed-data digest and compares it to the claimed maker.
// Replay protection (canceled salts) and expiry state live in the engine.
package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/outcomex/clob-engine/internal/model"
)

var (
	// ErrInvalidSignature is returned when the recovered signer does not
	// match the claimed maker, or the signature is malformed.
	ErrInvalidSignature = errors.New("signing: invalid signature")
)

// SignatureLength is the expected r||s||v signature size in bytes.
const SignatureLength = 65

// Domain separates signatures between protocols, versions, chains, and
// markets. Two otherwise-identical orders signed against different domains
// are not interchangeable.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

func (d Domain) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           math.NewHexOrDecimal256(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "outcomeIndex", Type: "uint256"},
	{Name: "isBuy", Type: "bool"},
	{Name: "price", Type: "uint256"},
	{Name: "amount", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
}

var cancelOrderType = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "id", Type: "string"},
	{Name: "salt", Type: "uint256"},
}

var cancelSaltType = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "salt", Type: "uint256"},
}

// Verifier binds one domain and checks maker signatures against it.
type Verifier struct {
	domain Domain
}

// NewVerifier creates a verifier for the given domain.
func NewVerifier(domain Domain) *Verifier {
	return &Verifier{domain: domain}
}

// Domain returns the verifier's bound domain.
func (v *Verifier) Domain() Domain {
	return v.domain
}

func orderTypedData(domain Domain, o *model.Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Order":        orderType,
		},
		PrimaryType: "Order",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"maker":        o.Maker.Hex(),
			"outcomeIndex": strconv.Itoa(o.OutcomeIndex),
			"isBuy":        o.IsBuy,
			"price":        strconv.FormatInt(o.Price, 10),
			"amount":       strconv.FormatInt(o.Amount, 10),
			"expiry":       strconv.FormatInt(o.Expiry, 10),
			"salt":         strconv.FormatUint(o.Salt, 10),
		},
	}
}

func cancelOrderTypedData(domain Domain, maker common.Address, id string, salt uint64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"CancelOrder":  cancelOrderType,
		},
		PrimaryType: "CancelOrder",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"maker": maker.Hex(),
			"id":    id,
			"salt":  strconv.FormatUint(salt, 10),
		},
	}
}

func cancelSaltTypedData(domain Domain, maker common.Address, salt uint64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"CancelSalt":   cancelSaltType,
		},
		PrimaryType: "CancelSalt",
		Domain:      domain.typedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"maker": maker.Hex(),
			"salt":  strconv.FormatUint(salt, 10),
		},
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func digest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, err
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, err
	}
	raw := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256(raw), nil
}

// recoverSigner returns the address that produced sig over the typed-data digest.
// Accepts recovery ids in both raw {0,1} and wire {27,28} form.
func recoverSigner(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidSignature, len(sig), SignatureLength)
	}

	hash, err := digest(td)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (v *Verifier) check(td apitypes.TypedData, maker common.Address, sig []byte) (common.Address, error) {
	signer, err := recoverSigner(td, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != maker {
		return common.Address{}, fmt.Errorf("%w: recovered %s, claimed maker %s",
			ErrInvalidSignature, signer.Hex(), maker.Hex())
	}
	return signer, nil
}

// VerifyOrder checks that sig authorizes o under the verifier's domain and
// was produced by o.Maker. Pure check: no side effects on success.
func (v *Verifier) VerifyOrder(o *model.Order, sig []byte) (common.Address, error) {
	return v.check(orderTypedData(v.domain, o), o.Maker, sig)
}

// VerifyCancelOrder checks a cancellation of a specific resting order.
func (v *Verifier) VerifyCancelOrder(maker common.Address, id string, salt uint64, sig []byte) (common.Address, error) {
	return v.check(cancelOrderTypedData(v.domain, maker, id, salt), maker, sig)
}

// VerifyCancelSalt checks a cancel-by-salt, used to invalidate a signed order
// that may never have been posted to the book.
func (v *Verifier) VerifyCancelSalt(maker common.Address, salt uint64, sig []byte) (common.Address, error) {
	return v.check(cancelSaltTypedData(v.domain, maker, salt), maker, sig)
}

// --- Signing helpers (maker-side tooling and tests) ---

func sign(td apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, err := digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	// Wire form uses v in {27, 28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// SignOrder produces the maker signature over an order.
func SignOrder(domain Domain, o *model.Order, key *ecdsa.PrivateKey) ([]byte, error) {
	return sign(orderTypedData(domain, o), key)
}

// SignCancelOrder produces the maker signature over a by-id cancellation.
func SignCancelOrder(domain Domain, maker common.Address, id string, salt uint64, key *ecdsa.PrivateKey) ([]byte, error) {
	return sign(cancelOrderTypedData(domain, maker, id, salt), key)
}

// SignCancelSalt produces the maker signature over a cancel-by-salt.
func SignCancelSalt(domain Domain, maker common.Address, salt uint64, key *ecdsa.PrivateKey) ([]byte, error) {
	return sign(cancelSaltTypedData(domain, maker, salt), key)
}
