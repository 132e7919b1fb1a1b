// Package ctl implements storagectl, the operator tool for registering and
// managing storage backends.
package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/services"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// Backends is the registry surface the tool drives.
type Backends interface {
	Register(ctx context.Context, in services.BackendInput) (*models.StorageBackend, error)
	List(ctx context.Context) ([]*models.StorageBackend, error)
	Update(ctx context.Context, id string, p services.BackendPatch) (*models.StorageBackend, error)
	Delete(ctx context.Context, id string) error
	AssignRole(ctx context.Context, id string, role models.Role) error
	ClearRole(ctx context.Context, id string) error
	Stats(ctx context.Context) (*services.UsageStats, error)
}

// OpenFunc connects to the registry; the returned func releases it.
type OpenFunc func(ctx context.Context) (Backends, func() error, error)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errMissingID = errors.New("backend id argument is required")

type backendView struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Name           string     `json:"name"`
	Role           string     `json:"role,omitempty"`
	RootFolderID   string     `json:"root_folder_id,omitempty"`
	RootFolderName string     `json:"root_folder_name,omitempty"`
	PublicURL      string     `json:"public_url,omitempty"`
	UsedBytes      int64      `json:"used_bytes"`
	FileCount      int64      `json:"file_count"`
	SelectionCount int64      `json:"selection_count"`
	TokenExpiry    *time.Time `json:"token_expiry,omitempty"`
}

func viewOf(b *models.StorageBackend) backendView {
	return backendView{
		ID:             b.ID,
		Kind:           string(b.Kind),
		Name:           b.Name,
		Role:           string(b.Role),
		RootFolderID:   b.RootFolderID,
		RootFolderName: b.RootFolderName,
		PublicURL:      b.PublicURL,
		UsedBytes:      b.UsedBytes,
		FileCount:      b.FileCount,
		SelectionCount: b.SelectionCount,
		TokenExpiry:    b.Expiry,
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("writing JSON: %w", err)
	}
	return nil
}

func withBackends(open OpenFunc, f func(b Backends, c *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		b, closeFn, err := open(c.Context)
		if err != nil {
			return err
		}
		defer closeFn()
		return f(b, c)
	}
}

// secret returns --client-secret, or prompts for it without echo when
// --prompt-secret is set.
func secret(c *cli.Context) (string, bool, error) {
	if c.IsSet("client-secret") {
		return c.String("client-secret"), true, nil
	}
	if !c.Bool("prompt-secret") {
		return "", false, nil
	}
	fmt.Fprint(c.App.ErrWriter, "Enter client secret: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.App.ErrWriter)
	if err != nil {
		return "", false, fmt.Errorf("reading client secret: %w", err)
	}
	return strings.TrimSpace(string(pw)), true, nil
}

func idArg(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", errMissingID
	}
	return id, nil
}

func optional(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	v := c.String(name)
	return &v
}

var secretFlags = []cli.Flag{
	&cli.StringFlag{Name: "client-secret", Usage: "client secret (prefer --prompt-secret)"},
	&cli.BoolFlag{Name: "prompt-secret", Usage: "read the client secret from the terminal"},
}

func NewApp(open OpenFunc, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "storagectl",
		Usage:     "manage mediavault storage backends",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{{
			Name:  "register",
			Usage: "register a new storage backend",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "kind", Usage: "gdrive, onedrive, dropbox, imgur, s3 or gcs", Required: true},
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "role", Usage: "source, poster, backdrop or subtitle"},
				&cli.StringFlag{Name: "client-id"},
				&cli.StringFlag{Name: "refresh-token"},
				&cli.StringFlag{Name: "root-folder-id", Usage: "root folder id, or bucket for s3/gcs"},
				&cli.StringFlag{Name: "root-folder-name"},
				&cli.StringFlag{Name: "public-url"},
			}, secretFlags...),
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				s, _, err := secret(c)
				if err != nil {
					return err
				}
				b, err := r.Register(c.Context, services.BackendInput{
					Kind:           models.BackendKind(c.String("kind")),
					Name:           c.String("name"),
					Role:           models.Role(c.String("role")),
					ClientID:       c.String("client-id"),
					ClientSecret:   s,
					RefreshToken:   c.String("refresh-token"),
					RootFolderID:   c.String("root-folder-id"),
					RootFolderName: c.String("root-folder-name"),
					PublicURL:      c.String("public-url"),
				})
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, viewOf(b))
			}),
		}, {
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list registered backends",
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				list, err := r.List(c.Context)
				if err != nil {
					return err
				}
				views := make([]backendView, 0, len(list))
				for _, b := range list {
					views = append(views, viewOf(b))
				}
				return printJSON(c.App.Writer, views)
			}),
		}, {
			Name:      "update",
			Usage:     "change editable fields of a backend",
			ArgsUsage: "<id>",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "name"},
				&cli.StringFlag{Name: "client-id"},
				&cli.StringFlag{Name: "root-folder-id"},
				&cli.StringFlag{Name: "root-folder-name"},
				&cli.StringFlag{Name: "public-url"},
			}, secretFlags...),
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				id, err := idArg(c)
				if err != nil {
					return err
				}
				p := services.BackendPatch{
					Name:           optional(c, "name"),
					ClientID:       optional(c, "client-id"),
					RootFolderID:   optional(c, "root-folder-id"),
					RootFolderName: optional(c, "root-folder-name"),
					PublicURL:      optional(c, "public-url"),
				}
				if s, ok, err := secret(c); err != nil {
					return err
				} else if ok {
					p.ClientSecret = &s
				}
				b, err := r.Update(c.Context, id, p)
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, viewOf(b))
			}),
		}, {
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete a backend that holds no files",
			ArgsUsage: "<id>",
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				id, err := idArg(c)
				if err != nil {
					return err
				}
				return r.Delete(c.Context, id)
			}),
		}, {
			Name:      "assign-role",
			Usage:     "assign a role to a backend",
			ArgsUsage: "<id> <role>",
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				id, err := idArg(c)
				if err != nil {
					return err
				}
				role := models.Role(c.Args().Get(1))
				if !role.Valid() {
					return fmt.Errorf("invalid role %q", role)
				}
				return r.AssignRole(c.Context, id, role)
			}),
		}, {
			Name:      "clear-role",
			Usage:     "remove the role of a backend",
			ArgsUsage: "<id>",
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				id, err := idArg(c)
				if err != nil {
					return err
				}
				return r.ClearRole(c.Context, id)
			}),
		}, {
			Name:  "stats",
			Usage: "show usage totals",
			Action: withBackends(open, func(r Backends, c *cli.Context) error {
				s, err := r.Stats(c.Context)
				if err != nil {
					return err
				}
				byRole := make(map[string]int64, len(s.ByRole))
				for role, n := range s.ByRole {
					if role == models.RoleNone {
						role = "unassigned"
					}
					byRole[string(role)] += n
				}
				return printJSON(c.App.Writer, map[string]any{
					"backends":   s.Backends,
					"used_bytes": s.UsedBytes,
					"files":      s.Files,
					"by_role":    byRole,
				})
			}),
		}},
	}
}
