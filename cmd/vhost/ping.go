package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/internet"
	"github.com/hajifkd/virtual-ip-host/ipv4/icmpv4"
)

var errNoReply = errors.New("no reply")

// sizeEchoHeader is counted in the reply size, as ping(8) does.
const sizeEchoHeader = 8

type pingOptions struct {
	count    int
	interval time.Duration
	timeout  time.Duration
	size     int
}

var pingOpts pingOptions

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping <address>",
	Short: "Send ICMP echo requests from the virtual host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dst, err := viphost.ParseIPAddr(args[0])
		if err != nil {
			return err
		}
		if pingOpts.size < 0 || pingOpts.count < 0 {
			return errors.New("count and size must not be negative")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := buildHost(cfg)
		if err != nil {
			return fmt.Errorf("failed to build host: %w", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var stats pingStats
		err = h.serve(ctx, func(ctx context.Context) (err error) {
			stats, err = runPing(ctx, h.stack, dst, pingOpts, cmd.OutOrStdout())
			return err
		})
		err = multierr.Append(err, h.close(context.Background()))
		if err == nil && stats.received == 0 {
			return errNoReply
		}
		return err
	},
}

func init() {
	pingCmd.Flags().IntVarP(&pingOpts.count, "count", "c", 4, "number of echo requests, 0 until interrupted")
	pingCmd.Flags().DurationVarP(&pingOpts.interval, "interval", "i", time.Second, "wait between requests")
	pingCmd.Flags().DurationVarP(&pingOpts.timeout, "timeout", "W", time.Second, "wait for each reply")
	pingCmd.Flags().IntVarP(&pingOpts.size, "size", "s", 56, "payload bytes per request")
}

type pingStats struct {
	transmitted, received int
	min, max, total       time.Duration
}

func (s *pingStats) add(rtt time.Duration) {
	if s.received == 0 || rtt < s.min {
		s.min = rtt
	}
	s.max = max(s.max, rtt)
	s.total += rtt
	s.received++
}

func (s *pingStats) print(w io.Writer, dst viphost.IPAddr) {
	loss := 0.0
	if s.transmitted > 0 {
		loss = 100 * float64(s.transmitted-s.received) / float64(s.transmitted)
	}
	fmt.Fprintf(w, "--- %s ping statistics ---\n", dst)
	fmt.Fprintf(w, "%d packets transmitted, %d received, %.1f%% packet loss\n", s.transmitted, s.received, loss)
	if s.received > 0 {
		avg := s.total / time.Duration(s.received)
		fmt.Fprintf(w, "round-trip min/avg/max = %s/%s/%s ms\n", ms(s.min), ms(avg), ms(s.max))
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d)/float64(time.Millisecond))
}

// runPing sends opts.count echoes to dst, one per interval, and reports each
// reply to w. Interruption through ctx ends the run early without error.
func runPing(ctx context.Context, s *internet.Stack, dst viphost.IPAddr, opts pingOptions, w io.Writer) (pingStats, error) {
	var stats pingStats
	payload := make([]byte, opts.size)
	for i := range payload {
		payload[i] = byte(i)
	}
	p, err := s.NewPinger(dst, payload)
	if err != nil {
		return stats, err
	}
	defer p.Close()

	fmt.Fprintf(w, "PING %s: %d data bytes\n", dst, opts.size)
loop:
	for seq := uint16(1); opts.count == 0 || int(seq) <= opts.count; seq++ {
		if seq > 1 {
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(opts.interval):
			}
		}
		sent := time.Now()
		if err := p.Send(ctx, seq); err != nil {
			return stats, err
		}
		stats.transmitted++
		reply, err := awaitReply(ctx, p, seq, opts.timeout)
		switch {
		case err == nil:
			rtt := time.Since(sent)
			stats.add(rtt)
			fmt.Fprintf(w, "%d bytes from %s: icmp_seq=%d time=%s ms\n", sizeEchoHeader+len(reply.Data), reply.Src, seq, ms(rtt))
		case ctx.Err() != nil:
			break loop
		default:
			fmt.Fprintf(w, "Request timeout for icmp_seq %d\n", seq)
		}
	}
	stats.print(w, dst)
	return stats, nil
}

// awaitReply waits up to timeout for the reply to seq. Late replies to
// earlier requests are discarded.
func awaitReply(ctx context.Context, p *internet.Pinger, seq uint16, timeout time.Duration) (icmpv4.EchoReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		reply, err := p.Recv(ctx)
		if err != nil {
			return reply, err
		}
		// Replies carry the answered sequence number plus one.
		if reply.SequenceID-1 == seq {
			return reply, nil
		}
	}
}
