// Command fundx-keytool encrypts a wallet private key into the key file read
// by wallet.encrypted_key_path, and prints the address of an existing file.
//
//	fundx-keytool -out wallet.json      < key.hex
//	fundx-keytool -show wallet.json
//
// The password comes from FUNDX_WALLET_KEY_PASSWORD.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/crypto"
)

func main() {
	out := flag.String("out", "", "write an encrypted key file read from stdin to this path")
	show := flag.String("show", "", "print the wallet address stored in this key file")
	chainID := flag.Int64("chain-id", 998, "chain id used to build the signer")
	flag.Parse()

	password := os.Getenv("FUNDX_WALLET_KEY_PASSWORD")
	if password == "" {
		fatalf("FUNDX_WALLET_KEY_PASSWORD must be set")
	}

	switch {
	case *out != "":
		key, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && key == "" {
			fatalf("read private key from stdin: %v", err)
		}
		key = strings.TrimSpace(key)
		signer, err := crypto.NewSigner(key, *chainID)
		if err != nil {
			fatalf("%v", err)
		}
		if err := crypto.WriteEncryptedKey(*out, key, password); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("wrote %s for %s\n", *out, signer.Address().Hex())

	case *show != "":
		signer, err := crypto.LoadSigner(crypto.KeyConfig{EncryptedKeyPath: *show, KeyPassword: password}, *chainID)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(signer.Address().Hex())

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fundx-keytool: "+format+"\n", args...)
	os.Exit(1)
}
