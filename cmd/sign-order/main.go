package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/order"
)

func main() {
	keystorePath := flag.String("keystore", os.Getenv("KEYSTORE_FILE"), "keystore file of the maker")
	keyHex := flag.String("key", "", "hex private key of the maker, used when no keystore is given")
	exchangeAddr := flag.String("exchange", os.Getenv("EXCHANGE_ADDRESS"), "exchange contract address")
	offer := flag.String("offer", crypto.NativeAsset, "offered token address or \"ether\"")
	offerAmount := flag.String("offer-amount", "1000000000000000000", "offered amount in base units")
	want := flag.String("want", "", "wanted token address or \"ether\"")
	wantAmount := flag.String("want-amount", "", "wanted amount in base units (required)")
	block := flag.Uint64("block", 0, "current block height")
	expiration := flag.Uint64("expiration-blocks", 10000, "blocks until the order expires")
	flag.Parse()

	password := os.Getenv("KEYSTORE_PASSWORD")

	// Step 1: Load or generate the maker's key
	var wallet *crypto.KeystoreWallet
	var err error
	switch {
	case *keystorePath != "":
		wallet, err = crypto.LoadKeystoreWallet(*keystorePath)
	case *keyHex != "":
		var signer *crypto.Signer
		if signer, err = crypto.FromPrivateKeyHex(*keyHex); err == nil {
			wallet, password, err = ephemeralWallet(signer)
		}
	default:
		fmt.Println("No key given, generating a throwaway key...")
		var signer *crypto.Signer
		if signer, err = crypto.GenerateKey(); err == nil {
			wallet, password, err = ephemeralWallet(signer)
		}
	}
	if err != nil {
		fail("Error loading key", err)
	}
	if !wallet.IsPasswordValid(password) {
		fail("Error", crypto.ErrInvalidCredential)
	}
	fmt.Printf("Maker: %s\n\n", wallet.Address().Hex())

	// Step 2: Build the order
	if !common.IsHexAddress(*exchangeAddr) {
		fail("Error", fmt.Errorf("exchange address %q is invalid", *exchangeAddr))
	}
	intent := order.Intent{
		OfferAsset:  *offer,
		OfferAmount: parseAmount("offer-amount", *offerAmount),
		WantAsset:   *want,
		WantAmount:  parseAmount("want-amount", *wantAmount),
	}
	builder := order.NewBuilder(common.HexToAddress(*exchangeAddr), *expiration)
	o, err := builder.Build(wallet.Address(), *block, intent)
	if err != nil {
		fail("Error building order", err)
	}

	digest, err := order.Hash(o)
	if err != nil {
		fail("Error hashing order", err)
	}
	fmt.Println("Order Details:")
	fmt.Printf("  Offer: %s %s\n", o.OfferTokenAmount, o.OfferTokenAddress.Hex())
	fmt.Printf("  Want: %s %s\n", o.WantTokenAmount, o.WantTokenAddress.Hex())
	fmt.Printf("  Expiration block: %s\n", o.ExpirationBlock)
	fmt.Printf("  Salt: %s\n", o.Salt)
	fmt.Printf("  Hash: %s\n\n", digest.Hex())

	// Step 3: Sign the order hash
	signed, err := order.HashSigner{Wallet: wallet}.SignOrder(o, password)
	if err != nil {
		fail("Error signing", err)
	}

	body, err := json.MarshalIndent(signed, "", "  ")
	if err != nil {
		fail("Error marshaling JSON", err)
	}
	fmt.Println("Signed Order (JSON):")
	fmt.Println(string(body))
	fmt.Println()

	// Step 4: Verify the signature
	fmt.Println("Verifying signature...")
	valid, err := order.Verify(signed)
	if err != nil {
		fail("Error verifying", err)
	}
	if !valid {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  RPC signature: %s\n\n", signed.Signature.RPCSignature())

	fmt.Println("To submit this order:")
	fmt.Println("  POST <EXCHANGE_API_URL>/orders")
	fmt.Println("  Content-Type: application/json")
}

// ephemeralWallet wraps signer in an in-memory keystore.
func ephemeralWallet(signer *crypto.Signer) (*crypto.KeystoreWallet, string, error) {
	const password = "sign-order"
	keyJSON, err := crypto.EncryptKeystore(signer, password, true)
	if err != nil {
		return nil, "", err
	}
	w, err := crypto.NewKeystoreWallet(keyJSON)
	return w, password, err
}

func parseAmount(name, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		fail("Error", fmt.Errorf("%s: %q is not an integer", name, s))
	}
	return v
}

func fail(msg string, err error) {
	fmt.Printf("%s: %v\n", msg, err)
	os.Exit(1)
}
