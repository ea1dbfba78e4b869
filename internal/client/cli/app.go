package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/dmitrijs2005/filevault/internal/client/client"
	"github.com/dmitrijs2005/filevault/internal/client/config"
)

type App struct {
	config      *config.Config
	api         client.Client
	reader      *bufio.Reader
	out         io.Writer
	sessionName string
}

func NewApp(c *config.Config) (*App, error) {
	if c.ServerURL == "" {
		return nil, errors.New("server URL is not set")
	}
	api := client.NewHTTPClient(c.ServerURL,
		client.WithChunkSize(c.ChunkSize),
		client.WithPollInterval(c.PollInterval),
	)
	return newApp(c, api, os.Stdin, os.Stdout), nil
}

func newApp(c *config.Config, api client.Client, in io.Reader, out io.Writer) *App {
	return &App{config: c, api: api, reader: bufio.NewReader(in), out: out}
}

func (a *App) isLoggedIn() bool {
	return a.sessionName != ""
}

func (a *App) status() string {
	if !a.isLoggedIn() {
		return "(no session)"
	}
	return "(" + a.sessionName + ")"
}

// Run opens the session, then executes the command given on the command
// line or, when there is none, starts the interactive prompt.
func (a *App) Run(ctx context.Context) error {
	if err := a.api.Ping(ctx); err != nil {
		return err
	}
	if err := a.Login(ctx); err != nil {
		return err
	}

	if len(a.config.Args) == 0 {
		runREPL(ctx, a, a.status, bufio.NewScanner(a.reader))
		return nil
	}
	return dispatch(ctx, a, a.config.Args[0], a.config.Args[1:])
}
