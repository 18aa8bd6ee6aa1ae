package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"coral-agents/internal/infra/config"
)

// runEncrypt prints an "enc:" value for config.yaml. The secret comes from
// the first argument, or from stdin when none is given.
func runEncrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	passphrase := os.Getenv("CORAL_MASTER_KEY")
	if passphrase == "" {
		return errors.New("CORAL_MASTER_KEY is not set")
	}

	secret := fs.Arg(0)
	if secret == "" {
		var err error
		if secret, err = readSecret(os.Stdin); err != nil {
			return err
		}
	}

	out, err := encryptSecret(secret, passphrase)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty secret")
	}
	return line, nil
}

func encryptSecret(secret, passphrase string) (string, error) {
	enc, err := config.EncryptValue(secret, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return "enc:" + enc, nil
}
