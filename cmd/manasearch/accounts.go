package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/manasearch/internal/account"
	"github.com/hyperjump/manasearch/internal/cli"
	"github.com/hyperjump/manasearch/internal/favorites"
	"github.com/hyperjump/manasearch/internal/models"
	"github.com/hyperjump/manasearch/internal/storage"
)

// userOptions are the flags of the user subcommand.
type userOptions struct {
	id     int64
	input  models.AccountInput
	format cli.OutputFormat
}

func runUser(args []string) error {
	if len(args) == 0 {
		return errors.New("user needs an action: create, show, delete, list, or token")
	}
	action := args[0]
	fs := flag.NewFlagSet("user "+action, flag.ExitOnError)
	common := addCommonFlags(fs)
	var opts userOptions
	fs.Int64Var(&opts.id, "id", 0, "user id (show, delete)")
	fs.StringVar(&opts.input.Email, "email", "", "email (create, token)")
	fs.StringVar(&opts.input.Password, "password", "", "password (create, token)")
	fs.StringVar(&opts.input.FirstName, "first-name", "", "first name (create)")
	fs.StringVar(&opts.input.LastName, "last-name", "", "last name (create)")
	fs.StringVar(&opts.input.UserType, "type", models.UserTypeClient, "client, game_designer, or admin (create)")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args[1:])
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	opts.format = format

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	store, err := openStorage(ctx, e.cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	return userCommand(ctx, newAccountService(e.cfg, store, e.logger), action, opts, os.Stdout)
}

func userCommand(ctx context.Context, svc *account.Service, action string, opts userOptions, w io.Writer) error {
	switch action {
	case "create":
		u, err := svc.CreateAccount(ctx, opts.input)
		if err != nil {
			return err
		}
		if opts.format == cli.OutputJSON {
			return cli.WriteJSON(w, u)
		}
		fmt.Fprintf(w, "Created %s user %d (%s)\n", u.UserType, u.ID, u.Email)
		return nil
	case "show":
		if opts.id == 0 {
			return errors.New("user show needs --id")
		}
		u, err := svc.FindByID(ctx, opts.id)
		if err != nil {
			return err
		}
		if opts.format == cli.OutputJSON {
			return cli.WriteJSON(w, u)
		}
		return cli.WriteUsers(w, []*models.User{u}, opts.format)
	case "delete":
		if opts.id == 0 {
			return errors.New("user delete needs --id")
		}
		if err := svc.DeleteAccount(ctx, opts.id); err != nil {
			return err
		}
		fmt.Fprintf(w, "Deleted user %d\n", opts.id)
		return nil
	case "list":
		users, err := svc.ListUsers(ctx)
		if err != nil {
			return err
		}
		return cli.WriteUsers(w, users, opts.format)
	case "token":
		resp, err := svc.Login(ctx, opts.input.Email, opts.input.Password)
		if err != nil {
			return err
		}
		if opts.format == cli.OutputJSON {
			return cli.WriteJSON(w, resp)
		}
		fmt.Fprintln(w, resp.AccessToken)
		return nil
	default:
		return fmt.Errorf("unknown user action: %s", action)
	}
}

// favoritesOptions are the flags of the favorites subcommand. add and remove take a card
// ID or exact name.
type favoritesOptions struct {
	user   int64
	add    string
	remove string
	format cli.OutputFormat
}

func runFavorites(args []string) error {
	fs := flag.NewFlagSet("favorites", flag.ExitOnError)
	common := addCommonFlags(fs)
	var opts favoritesOptions
	fs.Int64Var(&opts.user, "user", 0, "user id")
	fs.StringVar(&opts.add, "add", "", "card id or name to add")
	fs.StringVar(&opts.remove, "remove", "", "card id or name to remove")
	output := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(args)
	if opts.user == 0 {
		return errors.New("favorites needs --user")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	opts.format = format

	e, err := setup(common, false)
	if err != nil {
		return err
	}
	defer e.logger.Sync()
	ctx := context.Background()
	store, err := openStorage(ctx, e.cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	return favoritesCommand(ctx, store, favorites.NewService(store), opts, os.Stdout)
}

func favoritesCommand(ctx context.Context, cards storage.CardStore, svc *favorites.Service, opts favoritesOptions, w io.Writer) error {
	switch {
	case opts.add != "":
		card, err := lookupCard(ctx, cards, opts.add)
		if err != nil {
			return err
		}
		if err := svc.Add(ctx, opts.user, card.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no user with id %d", opts.user)
			}
			return err
		}
		fmt.Fprintf(w, "Added %s to user %d's favorites\n", card.Name, opts.user)
		return nil
	case opts.remove != "":
		card, err := lookupCard(ctx, cards, opts.remove)
		if err != nil {
			return err
		}
		if err := svc.Remove(ctx, opts.user, card.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "Removed %s from user %d's favorites\n", card.Name, opts.user)
		return nil
	default:
		list, err := svc.List(ctx, opts.user)
		if err != nil {
			return err
		}
		return cli.WriteCards(w, list, opts.format)
	}
}
