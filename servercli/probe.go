package servercli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ProbeOptions describes a probe run
type ProbeOptions struct {
	Addr    string
	Conns   int
	Payload []byte
	// Expect is the reply size to wait for, 0 takes whatever the first read returns
	Expect  int
	Timeout time.Duration
}

// ProbeResult is the reply observed on one connection
type ProbeResult struct {
	Local string
	Reply []byte
	RTT   time.Duration
}

// Probe dials opts.Conns connections concurrently, sends the payload on each
// and collects the replies. The first failure cancels the rest.
func Probe(ctx context.Context, opts ProbeOptions) ([]ProbeResult, error) {
	if opts.Conns <= 0 {
		opts.Conns = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	results := make([]ProbeResult, opts.Conns)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Conns; i++ {
		i := i
		g.Go(func() error {
			res, err := probeOne(ctx, opts)
			if err != nil {
				return fmt.Errorf("connection %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func probeOne(ctx context.Context, opts ProbeOptions) (ProbeResult, error) {
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return ProbeResult{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(opts.Timeout))

	begin := time.Now()
	if _, err := conn.Write(opts.Payload); err != nil {
		return ProbeResult{}, err
	}
	var reply []byte
	if opts.Expect > 0 {
		reply = make([]byte, opts.Expect)
		if _, err := io.ReadFull(conn, reply); err != nil {
			return ProbeResult{}, err
		}
	} else {
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return ProbeResult{}, err
		}
		reply = buf[:n]
	}
	return ProbeResult{
		Local: conn.LocalAddr().String(),
		Reply: reply,
		RTT:   time.Since(begin),
	}, nil
}

var probeOpts struct {
	addr    string
	conns   int
	payload string
	hex     bool
	expect  int
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Connect to a running server, send a payload and print the replies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(probeOpts.payload)
		if probeOpts.hex {
			var err error
			if payload, err = hex.DecodeString(probeOpts.payload); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
		}
		results, err := Probe(cmd.Context(), ProbeOptions{
			Addr:    probeOpts.addr,
			Conns:   probeOpts.conns,
			Payload: payload,
			Expect:  probeOpts.expect,
			Timeout: probeOpts.timeout,
		})
		if err != nil {
			return err
		}
		for _, res := range results {
			cmd.Printf("%s %s %s\n", res.Local, res.RTT, hex.EncodeToString(res.Reply))
		}
		return nil
	},
}

func init() {
	flags := probeCmd.Flags()
	flags.StringVar(&probeOpts.addr, "addr", "127.0.0.1:6017", "server address")
	flags.IntVar(&probeOpts.conns, "conns", 1, "concurrent connections")
	flags.StringVar(&probeOpts.payload, "payload", "ping", "bytes to send")
	flags.BoolVar(&probeOpts.hex, "hex", false, "payload is hex encoded")
	flags.IntVar(&probeOpts.expect, "expect", 0, "reply size to wait for, 0 takes the first read")
	flags.DurationVar(&probeOpts.timeout, "timeout", 2*time.Second, "per connection deadline")
}
