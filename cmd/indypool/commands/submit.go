package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/spf13/cobra"
)

var (
	submitSeed    string
	submitNodes   string
	submitTimeout time.Duration
)

//NewSubmitCmd returns the command that sends one request read from a file
func NewSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submit [file]",
		Short:   "Submit a JSON request and print the reply",
		Long:    "Submit a JSON request read from file, or from stdin if file is - or missing, and print the reply",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: loadConfig,
		RunE:    submit,
	}
	AddConfigFlags(cmd)
	AddSubmitFlags(cmd)
	return cmd
}

//AddSubmitFlags adds flags to the submit command
func AddSubmitFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&submitSeed, "seed", "", "Sign the request with the DID derived from this 32 byte seed")
	cmd.Flags().StringVar(&submitNodes, "nodes", "", "Comma separated nodes targeted by an action")
	cmd.Flags().DurationVar(&submitTimeout, "timeout", time.Minute, "Overall timeout")
}

func readRequest(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func submit(cmd *cobra.Command, args []string) error {
	body, err := readRequest(args)
	if err != nil {
		return fmt.Errorf("Reading request: %s", err)
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if submitSeed != "" {
		if _, _, err := c.Wallet.CreateDID([]byte(submitSeed)); err != nil {
			return err
		}
		if body, err = wire.SignRequestJSON(body, c.Wallet); err != nil {
			return err
		}
	}

	info, err := wire.ProbeRequest(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	if err := c.Pool.Open(ctx); err != nil {
		return err
	}

	var out []byte
	if request.KindOf(info.Type) == request.Action {
		var nodes []string
		if submitNodes != "" {
			nodes = strings.Split(submitNodes, ",")
		}
		replies, err := c.Pool.SubmitAction(ctx, body, nodes, 0)
		if err != nil {
			return err
		}
		if out, err = json.MarshalIndent(replies, "", "  "); err != nil {
			return err
		}
	} else {
		if out, err = c.Pool.Submit(ctx, body); err != nil {
			return err
		}
	}

	fmt.Println(string(out))

	return nil
}
