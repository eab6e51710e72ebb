package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/adapter/analyzeclient"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/ai"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/config"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/logger"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/image"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/session"
)

type options struct {
	url      string
	image    string
	screen   bool
	noStream bool
	wait     time.Duration
	debug    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load(nil)
	if err != nil {
		cfg = config.Defaults()
	}
	opts := options{url: cfg.AnalyzeURL, debug: cfg.DebugMode}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Terminal chat client for the local analyze API",
		Long: "ask sends questions (and optionally a screenshot) to the local API and prints the streamed answer.\n" +
			"Without arguments it starts an interactive session that keeps the conversation history.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, cfg.WelcomeMessage, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", opts.url, "full URL of the /analyze endpoint")
	f.StringVar(&opts.image, "image", "", "path to a png/jpeg screenshot to attach to the first question")
	f.BoolVar(&opts.screen, "screen", false, "capture the whole screen and attach it to the first question")
	f.BoolVar(&opts.noStream, "no-stream", false, "use the buffered JSON mode instead of SSE")
	f.DurationVar(&opts.wait, "wait", 5*time.Second, "how long to wait for the local API to become ready")
	f.BoolVar(&opts.debug, "debug", opts.debug, "verbose client logging")
	return cmd
}

func run(cmd *cobra.Command, opts options, welcome, question string) error {
	sugar, err := logger.New(opts.debug)
	if err != nil {
		return err
	}
	defer func() { _ = sugar.Sync() }()
	if !opts.debug {
		sugar = zap.NewNop().Sugar()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := analyzeclient.New(opts.url, sugar)
	if opts.wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
		err := client.WaitReady(waitCtx, 200*time.Millisecond)
		cancel()
		if err != nil {
			return fmt.Errorf("local API at %s is not reachable: %w", opts.url, err)
		}
	}

	var img string
	switch {
	case opts.image != "":
		img, err = image.FileToDataURL(opts.image)
	case opts.screen:
		img, err = image.ScreenToDataURL()
	}
	if err != nil {
		return fmt.Errorf("prepare screenshot: %w", err)
	}

	c := &chat{
		client:   client,
		sess:     session.New(welcome),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		live:     isTerminal(cmd.OutOrStdout()),
		noStream: opts.noStream,
	}

	if question != "" {
		return c.ask(ctx, question, img)
	}
	return c.repl(ctx, cmd.InOrStdin(), img)
}

type chat struct {
	client   *analyzeclient.Client
	sess     *session.Session
	out      io.Writer
	errOut   io.Writer
	live     bool
	noStream bool
}

func (c *chat) repl(ctx context.Context, in io.Reader, img string) error {
	if turns := c.sess.Turns(); len(turns) > 0 {
		fmt.Fprintln(c.out, turns[0].Content)
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if c.live {
			fmt.Fprint(c.out, "> ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		// ошибка ответа уже показана в истории, сессия продолжается
		_ = c.ask(ctx, line, img)
		img = ""
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *chat) ask(ctx context.Context, question, img string) error {
	req, err := c.sess.Submit(question, img)
	if err != nil {
		return err
	}

	if c.noStream {
		resp, err := c.client.Analyze(ctx, req)
		if err != nil {
			return c.fail(err)
		}
		c.sess.AppendDelta(resp.Answer)
		c.sess.Complete()
		fmt.Fprintln(c.out, resp.Answer)
		return nil
	}

	var onDelta func(string)
	if c.live {
		onDelta = func(d string) { fmt.Fprint(c.out, d) }
	}
	if err := c.sess.Consume(c.client.Stream(ctx, req), onDelta); err != nil {
		if c.live {
			fmt.Fprintln(c.out)
		}
		c.printCredentialHint(err)
		fmt.Fprintln(c.errOut, lastTurn(c.sess))
		return err
	}
	if c.live {
		fmt.Fprintln(c.out)
	} else {
		fmt.Fprintln(c.out, lastTurn(c.sess))
	}
	return nil
}

func (c *chat) fail(err error) error {
	text := c.sess.Fail(err)
	c.printCredentialHint(err)
	fmt.Fprintln(c.errOut, text)
	return err
}

func (c *chat) printCredentialHint(err error) {
	if ai.IsCredentialError(err) {
		fmt.Fprintln(c.errOut, "hint: set OPENAI_API_KEY (or OPENAI_SECRET_ID) for the local API and restart it")
	}
}

// isTerminal: живой вывод фрагментов только в терминал, в пайп — итоговый ответ целиком.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && logger.IsTerminal(f)
}

func lastTurn(s *session.Session) string {
	turns := s.Turns()
	if len(turns) == 0 {
		return ""
	}
	return turns[len(turns)-1].Content
}
