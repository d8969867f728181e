// Package keys generates the credentials key and seals exchange API
// credentials so they can sit in the environment encrypted.
package keys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"cryptoexecutor/src/security"
)

// Generate writes a fresh EXCHANGE_CREDENTIALS_KEY value to w.
func Generate(w io.Writer) error {
	key, err := security.NewKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, key)
	return err
}

// Seal encrypts every non-empty line read from in with the configured key
// and writes one sealed value per line to out. Reading from a stream keeps
// secrets out of shell history.
func Seal(cfg security.Config, in io.Reader, out io.Writer) error {
	key, err := security.ParseKey(cfg.ExchangeCRKey)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	sealed := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		value, err := security.Seal(key, line)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, value); err != nil {
			return err
		}
		sealed++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if sealed == 0 {
		return errors.New("nothing to seal")
	}
	return nil
}
