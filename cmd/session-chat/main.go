package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hshinosa/coregula/pkg/sessionchat"
	"github.com/hshinosa/coregula/pkg/sessionchat/channel"
	"github.com/hshinosa/coregula/pkg/sessionchat/composer"
	"github.com/hshinosa/coregula/pkg/sessionchat/lifecycle"
)

type settings struct {
	Endpoint   string `env:"COREGULA_WS_ENDPOINT"`
	APIBaseURL string `env:"COREGULA_API_URL"`
	Token      string `env:"COREGULA_TOKEN"`
	CourseID   string `env:"COREGULA_COURSE_ID"`
	GroupID    string `env:"COREGULA_GROUP_ID"`
	SessionID  string `env:"COREGULA_SESSION_ID"`
	SelfID     string `env:"COREGULA_USER_ID"`
	LogLevel   string `env:"COREGULA_LOG_LEVEL" envDefault:"info"`
}

func main() {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "session-chat",
		Short: "Join a CoRegula discussion session from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel)
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "websocket endpoint of the event channel")
	root.Flags().StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "application API root for lifecycle requests")
	root.Flags().StringVar(&cfg.Token, "token", cfg.Token, "bearer credential")
	root.Flags().StringVar(&cfg.CourseID, "course", cfg.CourseID, "course id")
	root.Flags().StringVar(&cfg.GroupID, "group", cfg.GroupID, "group id")
	root.Flags().StringVar(&cfg.SessionID, "session", cfg.SessionID, "session (chat space) id")
	root.Flags().StringVar(&cfg.SelfID, "user", cfg.SelfID, "current user id")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("session-chat failed")
		os.Exit(1)
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func run(ctx context.Context, cfg settings) error {
	mirror := newMirror()

	sess, err := sessionchat.New(sessionchat.Config{
		Endpoint:   cfg.Endpoint,
		APIBaseURL: cfg.APIBaseURL,
		Token:      cfg.Token,
		CourseID:   cfg.CourseID,
		GroupID:    cfg.GroupID,
		SessionID:  cfg.SessionID,
		SelfID:     cfg.SelfID,
		OnUpdate:   mirror.render,
		OnChannelState: func(st channel.State) {
			log.Info().Str("state", string(st)).Msg("channel")
		},
	})
	if err != nil {
		return err
	}
	defer sess.Close()
	mirror.bind(sess)

	log.Info().Str("session_id", cfg.SessionID).Msg("connecting")
	if err := sess.Join(ctx); err != nil {
		return err
	}

	go readStdin(sess)

	<-ctx.Done()
	return nil
}

// mirror prints transcript entries as they become live, once each.
type mirror struct {
	mu      sync.Mutex
	sess    *sessionchat.Session
	printed map[string]bool
}

func newMirror() *mirror {
	return &mirror{printed: map[string]bool{}}
}

func (m *mirror) bind(sess *sessionchat.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = sess
}

func (m *mirror) render() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return
	}
	for _, e := range m.sess.Processed() {
		if m.printed[e.ID] {
			continue
		}
		m.printed[e.ID] = true
		name := ""
		if e.ShowName {
			name = e.SenderName + ":"
		}
		fmt.Printf("%-18s %s\n", name, e.Content)
	}
	if names := m.sess.TypingNames(); len(names) > 0 {
		log.Debug().Strs("typing", names).Msg("typing")
	}
	if state := m.sess.Lifecycle(); state.State == lifecycle.StateReflectionPending {
		log.Info().Msg("session closed, a reflection is required (/reflect <text>)")
	}
}

// readStdin turns terminal lines into sends. "/close" and "/reflect <text>"
// drive the lifecycle requests.
func readStdin(sess *sessionchat.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/close":
			if err := sess.RequestClose(); err != nil {
				log.Warn().Err(err).Msg("close rejected")
			}
		case strings.HasPrefix(line, "/reflect "):
			if err := sess.SubmitReflection(strings.TrimPrefix(line, "/reflect ")); err != nil {
				logRejection("reflection", err)
			}
		case strings.HasPrefix(line, "/attach "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
			if _, err := sess.Composer().Stage(composer.PathSource(path)); err != nil {
				log.Warn().Err(err).Msg("attach failed")
			}
		default:
			c := sess.Composer()
			c.SetText(line, len(line))
			if err := c.Send(); err != nil {
				logRejection("send", err)
			}
		}
	}
}

func logRejection(op string, err error) {
	var lverr *lifecycle.ValidationError
	var cverr *composer.ValidationError
	switch {
	case errors.As(err, &lverr):
		log.Warn().Str("reason", lverr.Reason).Msgf("%s rejected", op)
	case errors.As(err, &cverr):
		log.Warn().Str("reason", cverr.Reason).Msgf("%s rejected", op)
	default:
		log.Warn().Err(err).Msgf("%s failed", op)
	}
}
