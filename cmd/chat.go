package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/chunlea/computer-use-with-nanokvm/internal/config"
	"github.com/chunlea/computer-use-with-nanokvm/internal/session"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tools"
)

func chatCmd() *cobra.Command {
	var (
		message string
		local   bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent interactively or send a one-shot message",
		Long: `Chat with the computer-use agent. When a gateway (kvmagent serve) is
running, chat goes through it, since the device accepts one HID link;
otherwise kvmagent connects to the NanoKVM directly.

REPL commands:
  /new                  start a new conversation
  /screenshot [file]    save the current screen as PNG
  /reconnect            re-dial the device
  /hid <command>        run a device action without the model, e.g.
                        /hid click 100 200   /hid key ctrl+c   /hid type "hi there"
  /status               show session state
  exit                  quit

Examples:
  kvmagent chat
  kvmagent chat -m "Open the terminal and run uptime"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			addr := gatewayDialAddr(cfg)
			if !local && isGatewayRunning(addr) {
				fmt.Fprintf(os.Stderr, "Connected to gateway at %s\n", addr)
				return runClientChat(ctx, cfg, addr, message)
			}
			return runLocalChat(ctx, cfg, message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().BoolVar(&local, "local", false, "connect to the device directly even if a gateway is running")
	return cmd
}

func gatewayDialAddr(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Gateway.Port))
}

func isGatewayRunning(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func runLocalChat(ctx context.Context, cfg *config.Config, message string) error {
	sess, err := openSession(ctx, cfg, true, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	r := newRenderer()
	sess.Bus.Subscribe("cli", r.agentEvent)
	defer sess.Bus.Unsubscribe("cli")

	if message != "" {
		res, err := sess.Loop.SubmitText(ctx, message)
		if err != nil {
			return err
		}
		r.answer(res.Text)
		if res.Err != nil {
			return res.Err
		}
		return nil
	}

	r.banner("kvmagent chat (model: "+sess.Loop.Model()+")",
		"Device: "+cfg.KVM.URL,
		`Type "exit" to quit, "/new" for a new conversation, "/help" for commands`)
	repl(ctx, r, &localBackend{sess: sess, direct: tools.NewDirectActions(sess.Computer)})
	return nil
}

// chatBackend is what the REPL drives: a local session or a gateway.
type chatBackend interface {
	send(ctx context.Context, message string) (string, error)
	reset() error
	screenshot(ctx context.Context, path string) (int, error)
	reconnect(ctx context.Context) error
	hid(ctx context.Context, args []string) error
	status() (string, error)
}

func repl(ctx context.Context, r *renderer, b chatBackend) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		r.prompt()
		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			r.info("Goodbye!")
			return
		}
		if strings.HasPrefix(input, "/") {
			if err := replCommand(ctx, r, b, input); err != nil {
				r.error(err)
			}
			continue
		}

		text, err := b.send(ctx, input)
		if err != nil {
			r.error(err)
			continue
		}
		r.answer(text)
	}
}

func replCommand(ctx context.Context, r *renderer, b chatBackend, input string) error {
	args, err := shellwords.Parse(input)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	switch args[0] {
	case "/help":
		r.info("/new  /screenshot [file]  /reconnect  /hid <command>  /status  exit")
	case "/new":
		if err := b.reset(); err != nil {
			return err
		}
		r.info("New conversation.")
	case "/screenshot":
		path := fmt.Sprintf("screenshot-%s.png", time.Now().Format("20060102-150405"))
		if len(args) > 1 {
			path = args[1]
		}
		n, err := b.screenshot(ctx, path)
		if err != nil {
			return err
		}
		r.info("Saved %s (%d bytes)", path, n)
	case "/reconnect":
		if err := b.reconnect(ctx); err != nil {
			return err
		}
		r.info("Device reconnected.")
	case "/hid":
		if len(args) < 2 {
			return errors.New("usage: /hid move X Y | click [X Y] | double [X Y] | key NAME | type TEXT")
		}
		if err := b.hid(ctx, args[1:]); err != nil {
			return err
		}
		r.info("ok")
	case "/status":
		s, err := b.status()
		if err != nil {
			return err
		}
		r.info("%s", s)
	default:
		return fmt.Errorf("unknown command %s (try /help)", args[0])
	}
	return nil
}

type localBackend struct {
	sess   *session.Session
	direct *tools.DirectActions
}

func (b *localBackend) send(ctx context.Context, message string) (string, error) {
	res, err := b.sess.Loop.SubmitText(ctx, message)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (b *localBackend) reset() error { return b.sess.Loop.Reset() }

func (b *localBackend) screenshot(ctx context.Context, path string) (int, error) {
	frame, err := b.direct.Screenshot(ctx)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, frame.PNG, 0o644); err != nil {
		return 0, err
	}
	return len(frame.PNG), nil
}

func (b *localBackend) reconnect(ctx context.Context) error { return b.sess.Reconnect(ctx) }

func (b *localBackend) hid(ctx context.Context, args []string) error {
	a, err := tools.ParseCommand(args)
	if err != nil {
		return err
	}
	_, err = b.direct.Run(ctx, a)
	return err
}

func (b *localBackend) status() (string, error) {
	st := b.sess.Status()
	return fmt.Sprintf("state=%s connected=%t model=%s turns=%d", st.State, st.Connected, st.Model, st.Turns), nil
}
