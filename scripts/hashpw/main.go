// hashpw prints the encoded hash of an operator password for
// COUNCIL_OPERATOR_PASSWORD_HASH.
//
// Usage:
//
//	go run scripts/hashpw/main.go            # reads the password from stdin
//	echo -n 's3cret' | go run scripts/hashpw/main.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ashita-ai/council/internal/auth"
)

func main() {
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintf(os.Stderr, "error: read password: %v\n", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		fmt.Fprintln(os.Stderr, "error: password must not be empty")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Println(hash)
}
