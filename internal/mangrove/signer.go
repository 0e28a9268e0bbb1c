package mangrove

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/bisoncraft/go-bip39"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoSigner = errors.New("no signer: provide a signer, a private key or a mnemonic")

// ethHDParams satisfies hdkeychain.NetworkParams. Only private derivation is
// used, so the serialization versions are never written anywhere.
type ethHDParams struct{}

func (ethHDParams) HDPrivKeyVersion() [4]byte { return [4]byte{0x04, 0x88, 0xad, 0xe4} } // xprv
func (ethHDParams) HDPubKeyVersion() [4]byte  { return [4]byte{0x04, 0x88, 0xb2, 0x1e} } // xpub

func hasSignerMaterial(opts Options) bool {
	if opts.Signer != nil {
		return opts.Signer.Signer != nil
	}
	return strings.TrimSpace(opts.PrivateKey) != "" || strings.TrimSpace(opts.Mnemonic) != ""
}

func resolveSigner(opts Options, chainID *big.Int) (*bind.TransactOpts, error) {
	if opts.Signer != nil {
		if opts.Signer.Signer == nil {
			return nil, ErrNoSigner
		}
		return opts.Signer, nil
	}

	var (
		pk  *ecdsa.PrivateKey
		err error
	)
	switch {
	case strings.TrimSpace(opts.PrivateKey) != "":
		pk, err = parsePrivateKey(opts.PrivateKey)
	case strings.TrimSpace(opts.Mnemonic) != "":
		pk, err = deriveMnemonicKey(opts.Mnemonic, opts.AccountIndex)
	default:
		return nil, ErrNoSigner
	}
	if err != nil {
		return nil, err
	}
	return bind.NewKeyedTransactorWithChainID(pk, chainID)
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return pk, nil
}

// deriveMnemonicKey derives the key at m/44'/60'/0'/0/index.
func deriveMnemonicKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	key, err := hdkeychain.NewMaster(seed, ethHDParams{})
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart,
		0,
		index,
	}
	for _, child := range path {
		next, err := key.ChildBIP32Std(child)
		key.Zero()
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", child, err)
		}
		key = next
	}
	defer key.Zero()

	priv, err := key.SerializedPrivKey()
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(priv)
}
