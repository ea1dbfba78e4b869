package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/filevault/internal/client/client"
	"github.com/dmitrijs2005/filevault/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Login opens the configured session, prompting for its name when none is
// configured and always for the password. A session that is already live
// under the same password is resumed.
//
// The password is securely wiped before returning.
func (a *App) Login(ctx context.Context) error {
	name := a.config.SessionName
	if name == "" {
		var err error
		name, err = getSimpleText(a.reader, "Enter session name", a.out)
		if err != nil {
			return err
		}
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	err = a.api.CreateSession(ctx, name, password)
	if errors.Is(err, client.ErrConflict) {
		// conflict is only reported when the password matches the live session
		a.api.UseSession(name)
		err = a.api.RefreshSession(ctx)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	a.sessionName = name
	fmt.Fprintf(a.out, "Session %s is open\n", name)
	return nil
}

// Logout ends the session on the server, which also drops its decrypted files.
func (a *App) Logout(ctx context.Context) error {
	if err := a.api.DeleteSession(ctx); err != nil {
		return err
	}
	a.sessionName = ""
	fmt.Fprintln(a.out, "Logged out")
	return nil
}
