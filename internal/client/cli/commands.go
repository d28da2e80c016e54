package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/idkeeper/internal/client/services"
	"github.com/dmitrijs2005/idkeeper/internal/common"
	"github.com/dmitrijs2005/idkeeper/internal/server/models"
)

var errUsage = errors.New("invalid arguments")

func (a *App) commands() []command {
	return []command{
		{name: "register", usage: "register", run: a.Register},
		{name: "login", usage: "login", run: a.Login},
		{name: "logout", usage: "logout", needsLogin: true, run: a.Logout},
		{name: "passwd", usage: "passwd", needsLogin: true, run: a.ChangePassword},
		{name: "mfa", usage: "mfa setup|enable <code>|disable", needsLogin: true, run: a.MFA},
		{name: "consent", usage: "consent [<category> on|off]", needsLogin: true, run: a.Consent},
		{name: "export", usage: "export", needsLogin: true, run: a.Export},
		{name: "delete-account", usage: "delete-account", needsLogin: true, run: a.DeleteAccount},
		{name: "job", usage: "job <id>", needsLogin: true, run: a.Job},
		{name: "dashboard", usage: "dashboard", needsLogin: true, run: a.Dashboard},
		{name: "unlock", usage: "unlock <user-id>", needsLogin: true, run: a.Unlock},
		{name: "sweep", usage: "sweep", needsLogin: true, run: a.Sweep},
	}
}

func (a *App) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func (a *App) Register(ctx context.Context, _ []string) error {
	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	fullName, err := GetSimpleText(a.reader, "Enter full name (optional)", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(a.out, "Enter password")
	if err != nil {
		return err
	}

	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	id, err := a.session.Register(ctx, email, password, fullName)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered, user id %s. You can login now.\n", id)
	return nil
}

// Login asks for the MFA code only when the server says it is needed.
func (a *App) Login(ctx context.Context, _ []string) error {
	email, err := GetSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}
	password, err := GetPassword(a.out, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	rctx, cancel := a.requestCtx(ctx)
	defer cancel()

	s, err := a.session.Login(rctx, email, slices.Clone(password), "")
	if errors.Is(err, services.ErrMFARequired) {
		code, cerr := GetSimpleText(a.reader, "Enter authenticator code", a.out)
		if cerr != nil {
			return cerr
		}
		s, err = a.session.Login(rctx, email, slices.Clone(password), code)
	}
	if err != nil {
		return err
	}

	a.setSession(s)
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

func (a *App) Logout(ctx context.Context, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	a.setSession(nil)
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) ChangePassword(ctx context.Context, _ []string) error {
	current, err := GetPassword(a.out, "Current password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)
	next, err := GetPassword(a.out, "New password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	if err := a.api.ChangePassword(ctx, string(current), string(next)); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

func (a *App) MFA(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: mfa setup|enable <code>|disable", errUsage)
	}

	rctx, cancel := a.requestCtx(ctx)
	defer cancel()

	switch args[0] {
	case "setup":
		setup, err := a.api.SetupMFA(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Secret: %s\nURI: %s\nConfirm with: mfa enable <code>\n", setup.Secret, setup.ProvisioningURI)
		return nil
	case "enable":
		if len(args) != 2 {
			return fmt.Errorf("%w: mfa enable <code>", errUsage)
		}
		if err := a.api.EnableMFA(rctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "MFA enabled")
		return nil
	case "disable":
		password, err := GetPassword(a.out, "Enter password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(password)
		if err := a.api.DisableMFA(rctx, string(password)); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "MFA disabled")
		return nil
	}
	return fmt.Errorf("%w: unknown mfa action %q", errUsage, args[0])
}

// Consent without arguments prints the current state of every category.
func (a *App) Consent(ctx context.Context, args []string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	switch len(args) {
	case 0:
		state, err := a.api.GetConsent(ctx)
		if err != nil {
			return err
		}
		for _, c := range models.ConsentCategories() {
			fmt.Fprintf(a.out, "%-16s %t\n", c, state[c])
		}
		return nil
	case 2:
		var granted bool
		switch strings.ToLower(args[1]) {
		case "on", "grant", "yes", "true":
			granted = true
		case "off", "revoke", "no", "false":
		default:
			return fmt.Errorf("%w: consent <category> on|off", errUsage)
		}
		resp, err := a.api.UpdateConsent(ctx, args[0], granted)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Consent %s recorded at %s\n", resp.ConsentID, resp.Timestamp.Format("2006-01-02 15:04:05"))
		return nil
	}
	return fmt.Errorf("%w: consent [<category> on|off]", errUsage)
}

func (a *App) Export(ctx context.Context, _ []string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	id, err := a.api.RequestExport(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Export requested, job %s\n", id)
	return nil
}

// DeleteAccount asks for confirmation and the password. The local session
// is dropped once the request is accepted.
func (a *App) DeleteAccount(ctx context.Context, _ []string) error {
	answer, err := GetSimpleText(a.reader, "Type DELETE to erase your account and all personal data", a.out)
	if err != nil {
		return err
	}
	if answer != "DELETE" {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}
	password, err := GetPassword(a.out, "Enter password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	rctx, cancel := a.requestCtx(ctx)
	defer cancel()

	id, err := a.api.RequestDeletion(rctx, string(password))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deletion requested, job %s\n", id)
	return a.Logout(ctx, nil)
}

func (a *App) Job(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: job <id>", errUsage)
	}
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	job, err := a.api.JobStatus(ctx, args[0])
	if err != nil {
		return err
	}
	return a.printJSON(job)
}

func (a *App) Dashboard(ctx context.Context, _ []string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	d, err := a.api.Dashboard(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(d)
}

func (a *App) Unlock(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: unlock <user-id>", errUsage)
	}
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	if err := a.api.UnlockAccount(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Account unlocked")
	return nil
}

func (a *App) Sweep(ctx context.Context, _ []string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()

	resp, err := a.api.RunRetentionSweep(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(resp)
}
