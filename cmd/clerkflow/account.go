package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

func (a *app) cmdWhoami(ctx context.Context) (err error) {
	c, err := a.connect()
	if err != nil {
		return err
	}
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	cl, err := c.core.LoadClient(ctx)
	if err != nil {
		return err
	}
	sess := c.core.ActiveSession()
	if sess == nil {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	u := sess.PublicUserData
	fmt.Fprintf(w, "Identifier\t%s\n", u.Identifier)
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		fmt.Fprintf(w, "Name\t%s\n", name)
	}
	fmt.Fprintf(w, "User\t%s\n", u.UserID)
	fmt.Fprintf(w, "Session\t%s (%s)\n", sess.ID(), sess.Status)
	fmt.Fprintf(w, "Client\t%s\n", cl.ID())
	if !sess.ExpireAt.IsZero() {
		fmt.Fprintf(w, "Session expires\t%s\n", sess.ExpireAt.Format(time.RFC3339))
	}

	tok := sess.LastActiveToken
	if tok == nil || tok.JWT == "" {
		if tok, err = sess.GetToken(ctx); err != nil {
			w.Flush()
			return fmt.Errorf("fetching session token: %w", err)
		}
	}
	if exp, err := tok.ExpiresAt(); err == nil {
		fmt.Fprintf(w, "Token expires\t%s\n", exp.Format(time.RFC3339))
	} else {
		a.logger.Debug("token has no usable exp claim", "error", err)
	}
	if others := len(cl.Sessions) - 1; others > 0 {
		fmt.Fprintf(w, "Other sessions\t%d\n", others)
	}
	return w.Flush()
}

func (a *app) cmdSignOut(ctx context.Context) (err error) {
	c, err := a.connect()
	if err != nil {
		return err
	}
	defer func() {
		if serr := c.save(); serr != nil && err == nil {
			err = serr
		}
	}()

	cl, err := c.core.LoadClient(ctx)
	if err != nil {
		return err
	}
	if len(cl.Sessions) == 0 {
		fmt.Fprintln(a.out, "No active session.")
		return nil
	}
	if err := c.core.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) cmdEnv(ctx context.Context) error {
	c, err := a.connect()
	if err != nil {
		return err
	}
	env, err := c.core.LoadEnvironment(ctx)
	if err != nil {
		return err
	}

	social := make([]string, len(env.SocialProviders))
	for i, s := range env.SocialProviders {
		social[i] = string(s)
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Application\t%s\n", env.ApplicationName)
	fmt.Fprintf(w, "Instance\t%s\n", env.InstanceType)
	fmt.Fprintf(w, "Preferred sign-in\t%s\n", env.PreferredSignInStrategy)
	fmt.Fprintf(w, "Sign-up mode\t%s\n", env.SignUpMode)
	fmt.Fprintf(w, "Password min length\t%d\n", env.PasswordMinLength)
	fmt.Fprintf(w, "Social providers\t%s\n", strings.Join(social, ", "))
	fmt.Fprintf(w, "Support email\t%s\n", env.SupportEmail)
	fmt.Fprintf(w, "Home URL\t%s\n", env.HomeURL)
	if env.MaintenanceMode {
		fmt.Fprintln(w, "Maintenance\tyes")
	}
	return w.Flush()
}
