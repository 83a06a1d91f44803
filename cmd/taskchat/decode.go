package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/odvcencio/taskchat/pkg/token"
)

type decodedToken struct {
	Kind  token.Kind        `json:"kind"`
	Label string            `json:"label"`
	Start int               `json:"start"`
	End   int               `json:"end"`
	Data  map[string]string `json:"data"`
}

var decodeInput io.Reader = os.Stdin
var decodeOutput io.Writer = os.Stdout

func runDecodeCommand(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	strip := fs.Bool("strip", false, "print the text with tokens replaced by their labels")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := io.ReadAll(decodeInput)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	if *strip {
		_, err := fmt.Fprintln(decodeOutput, token.Strip(string(data)))
		return err
	}

	tokens := token.Decode(string(data))
	out := make([]decodedToken, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, decodedToken{Kind: tok.Kind, Label: tok.Label, Start: tok.Start, End: tok.End, Data: tok.Data})
	}
	enc := json.NewEncoder(decodeOutput)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
