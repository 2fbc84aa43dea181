// Command pinctl drives the auth-pin endpoint from a terminal. The session
// token is kept in a private file between invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/session"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "pinctl:", describe(err))
		os.Exit(1)
	}
}

// describe prefers the server's user-facing message when there is one.
func describe(err error) string {
	var apiErr *session.APIError
	if errors.As(err, &apiErr) || errors.Is(err, session.ErrConnection) || errors.Is(err, session.ErrNoUser) {
		return session.Message(err)
	}
	return err.Error()
}

var errUsage = errors.New("usage")

func usage(w io.Writer) {
	fmt.Fprintf(w, `usage: pinctl [-server URL] [-token-file PATH] <command> [flags]

commands:
  status                               show the current session
  login -user ID -pin PIN              sign in and store the token
  logout                               end the session
  unlock -pin PIN                      re-enter the PIN of the signed-in user
  setup -nom N -prenom P -pin PIN      create the first medecin
  users [-all]                         list users
  create-user -nom N -prenom P -pin PIN [-role R]
  update-user -id ID [-nom N] [-prenom P] [-role R] [-active=true|false]
  reset-pin -id ID -pin PIN
`)
}

type cli struct {
	client *session.HTTPClient
	handle *session.Handle
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("pinctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	server := global.String("server", envOr("MEDCABINET_URL", "http://localhost:8080"), "API base URL")
	apiKey := global.String("apikey", os.Getenv("MEDCABINET_API_KEY"), "apikey header value")
	tokenFile := global.String("token-file", "", "session token file (default: user config dir)")
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		return errUsage
	}

	path := *tokenFile
	if path == "" {
		p, err := session.DefaultTokenPath()
		if err != nil {
			return err
		}
		path = p
	}

	var copts []session.ClientOption
	if *apiKey != "" {
		copts = append(copts, session.WithAPIKey(*apiKey))
	}
	client := session.NewHTTPClient(*server, copts...)
	c := &cli{
		client: client,
		handle: session.New(client, session.NewFileTokenStore(path)),
		out:    out,
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "status":
		return c.status(ctx)
	case "login":
		return c.login(ctx, rest)
	case "logout":
		return c.logout(ctx)
	case "unlock":
		return c.unlock(ctx, rest)
	case "setup":
		return c.setup(ctx, rest)
	case "users":
		return c.users(ctx, rest)
	case "create-user":
		return c.createUser(ctx, rest)
	case "update-user":
		return c.updateUser(ctx, rest)
	case "reset-pin":
		return c.resetPIN(ctx, rest)
	default:
		return errUsage
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parse(fs *flag.FlagSet, args []string, required ...string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	for _, name := range required {
		if fs.Lookup(name).Value.String() == "" {
			return fmt.Errorf("-%s is required", name)
		}
	}
	return nil
}

// signedIn restores the stored session and fails when nobody is signed in.
func (c *cli) signedIn(ctx context.Context) (session.State, error) {
	if err := c.handle.Start(ctx); err != nil {
		return session.State{}, err
	}
	st := c.handle.State()
	if !st.Authenticated() {
		return st, session.ErrNoUser
	}
	return st, nil
}

func (c *cli) status(ctx context.Context) error {
	if err := c.handle.Start(ctx); err != nil {
		return err
	}
	st := c.handle.State()
	switch {
	case st.NeedsSetup:
		fmt.Fprintln(c.out, "no users yet: run pinctl setup")
	case st.Authenticated():
		fmt.Fprintf(c.out, "%s %s (%s) %s\n", st.User.Prenom, st.User.Nom, st.User.Role, st.User.ID)
	default:
		fmt.Fprintln(c.out, "not signed in")
	}
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	user := fs.String("user", "", "user id")
	pin := fs.String("pin", "", "PIN")
	if err := parse(fs, args, "user", "pin"); err != nil {
		return err
	}
	u, err := c.handle.Login(ctx, *user, *pin)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "signed in as %s %s (%s)\n", u.Prenom, u.Nom, u.Role)
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	if err := c.handle.Start(ctx); err != nil {
		return err
	}
	c.handle.Logout(ctx)
	fmt.Fprintln(c.out, "signed out")
	return nil
}

func (c *cli) unlock(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ContinueOnError)
	pin := fs.String("pin", "", "PIN")
	if err := parse(fs, args, "pin"); err != nil {
		return err
	}
	if _, err := c.signedIn(ctx); err != nil {
		return err
	}
	c.handle.Lock()
	if err := c.handle.Unlock(ctx, *pin); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "unlocked")
	return nil
}

func (c *cli) setup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	nom := fs.String("nom", "", "last name")
	prenom := fs.String("prenom", "", "first name")
	pin := fs.String("pin", "", "PIN")
	if err := parse(fs, args, "nom", "prenom", "pin"); err != nil {
		return err
	}
	u, err := c.client.SetupInitialAdmin(ctx, *nom, *prenom, *pin)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created %s %s (%s) %s\n", u.Prenom, u.Nom, u.Role, u.ID)
	return nil
}

func (c *cli) users(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	all := fs.Bool("all", false, "include inactive users (medecin only)")
	if err := parse(fs, args); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	if !*all {
		list, err := c.client.ActiveUsers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tNOM\tPRENOM\tROLE")
		for _, u := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Nom, u.Prenom, u.Role)
		}
		return nil
	}
	if _, err := c.signedIn(ctx); err != nil {
		return err
	}
	list, err := c.client.AllUsers(ctx, c.handle.Token())
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "ID\tNOM\tPRENOM\tROLE\tACTIVE\tLAST LOGIN")
	for _, u := range list {
		last := "-"
		if u.LastLogin != nil {
			last = u.LastLogin.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", u.ID, u.Nom, u.Prenom, u.Role, u.IsActive, last)
	}
	return nil
}

func (c *cli) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	nom := fs.String("nom", "", "last name")
	prenom := fs.String("prenom", "", "first name")
	pin := fs.String("pin", "", "PIN")
	role := fs.String("role", string(auth.RoleAssistant), "medecin, secretaire or assistant")
	if err := parse(fs, args, "nom", "prenom", "pin"); err != nil {
		return err
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		return err
	}
	if _, err := c.signedIn(ctx); err != nil {
		return err
	}
	u, err := c.client.CreateUser(ctx, c.handle.Token(), auth.NewUser{Nom: *nom, Prenom: *prenom, PIN: *pin, Role: r})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created %s %s (%s) %s\n", u.Prenom, u.Nom, u.Role, u.ID)
	return nil
}

func (c *cli) updateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update-user", flag.ContinueOnError)
	id := fs.String("id", "", "user id")
	nom := fs.String("nom", "", "last name")
	prenom := fs.String("prenom", "", "first name")
	role := fs.String("role", "", "new role")
	active := fs.String("active", "", "true or false")
	if err := parse(fs, args, "id"); err != nil {
		return err
	}

	var patch auth.UserPatch
	if *nom != "" {
		patch.Nom = nom
	}
	if *prenom != "" {
		patch.Prenom = prenom
	}
	if *role != "" {
		r, err := auth.ParseRole(*role)
		if err != nil {
			return err
		}
		patch.Role = &r
	}
	switch strings.ToLower(*active) {
	case "":
	case "true", "1", "yes":
		v := true
		patch.IsActive = &v
	case "false", "0", "no":
		v := false
		patch.IsActive = &v
	default:
		return fmt.Errorf("-active must be true or false, got %q", *active)
	}

	if _, err := c.signedIn(ctx); err != nil {
		return err
	}
	u, err := c.client.UpdateUser(ctx, c.handle.Token(), *id, patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "updated %s %s (%s) %s\n", u.Prenom, u.Nom, u.Role, u.ID)
	return nil
}

func (c *cli) resetPIN(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-pin", flag.ContinueOnError)
	id := fs.String("id", "", "user id")
	pin := fs.String("pin", "", "new PIN")
	if err := parse(fs, args, "id", "pin"); err != nil {
		return err
	}
	if _, err := c.signedIn(ctx); err != nil {
		return err
	}
	if err := c.client.ResetPIN(ctx, c.handle.Token(), *id, *pin); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "pin reset")
	return nil
}
