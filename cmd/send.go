// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziprobotics/zipbridge/internal/bridge"
	"github.com/ziprobotics/zipbridge/pkg/zipwire"
)

var (
	sendTag   string
	sendTTLMs int64
	sendRaw   string
)

var sendCmd = &cobra.Command{
	Use:   "send <code> [data...]",
	Short: "Send one command and print the reply",
	Long: `Open the link, handshake, transmit a single command and print the
decoded reply.

The positional arguments are the numeric command code followed by up to
four data values, e.g.:

  zipbridge send 999 -80 80 --tag turn     # direct motor left/right
  zipbridge send 201 --tag halt            # stop
  zipbridge send 120 --tag diag            # diagnostics

Use --raw to bypass command building and transmit a protocol line as-is.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTag, "tag", "cli", "Command tag (max 8 chars)")
	sendCmd.Flags().Int64Var(&sendTTLMs, "ttl", 0, "TTL in milliseconds (0 = none)")
	sendCmd.Flags().StringVar(&sendRaw, "raw", "", "Raw protocol line to transmit instead")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	tr := newTransport(cfg, log)
	b := bridge.New(cfg, tr, log)
	ctx, cancel := context.WithTimeout(context.Background(),
		cfg.Serial.SettleDelay+cfg.Serial.HandshakeTimeout+5*time.Second)
	defer cancel()
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Close()

	if sendRaw != "" {
		if err := b.SendLine(sendRaw); err != nil {
			return err
		}
		// Raw lines are not reply-correlated; linger one command timeout
		// so a reply can still land in the logs.
		time.Sleep(cfg.Serial.CommandTimeout)
		fmt.Println("sent")
		return nil
	}

	if len(args) < 1 {
		return fmt.Errorf("command code required (or --raw)")
	}
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid command code %q", args[0])
	}
	var data []int
	for _, a := range args[1:] {
		v, err := strconv.Atoi(a)
		if err != nil {
			return fmt.Errorf("invalid data value %q", a)
		}
		data = append(data, v)
	}

	c := &zipwire.Command{
		Code: code,
		Tag:  sendTag,
		Data: data,
		TTL:  time.Duration(sendTTLMs) * time.Millisecond,
	}
	reply, err := b.Send(ctx, c)
	if err != nil {
		return err
	}
	if reply == nil {
		fmt.Println("sent (no reply expected)")
		return nil
	}
	fmt.Printf("%s  tag=%s kind=%s ok=%v", reply.Raw, reply.Tag, reply.Kind, reply.Ok())
	if reply.Value != "" {
		fmt.Printf(" value=%s", reply.Value)
	}
	fmt.Println()
	return nil
}
