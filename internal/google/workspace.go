package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// MIME types used on Drive.
const (
	MIMESpreadsheet = "application/vnd.google-apps.spreadsheet"
	MIMEXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMECSV         = "text/csv"
)

// DefaultRange is read when a caller does not name one: the first two
// columns of the first sheet.
const DefaultRange = "A:B"

// maxListed caps how many spreadsheets ListSpreadsheets returns.
const maxListed = 500

var errListFull = errors.New("listing full")

// User is the signed-in Google account.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// File is a Drive file as shown to the user.
type File struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modified_time,omitzero"`
}

// Workspace is the subset of Google APIs Ekho uses on behalf of a user.
type Workspace interface {
	UserInfo(ctx context.Context) (User, error)
	ListSpreadsheets(ctx context.Context) ([]File, error)
	ReadRows(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	UploadSpreadsheet(ctx context.Context, name string, r io.Reader, convert bool) (File, error)
}

// Client implements [Workspace] with the official API clients.
type Client struct {
	ts     oauth2.TokenSource
	users  *oauth2api.Service
	drive  *drive.Service
	sheets *sheets.Service
}

var _ Workspace = (*Client)(nil)

// NewClient creates the three API services. ts may be nil when opts carry
// their own authentication (e.g. option.WithHTTPClient).
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Client, error) {
	if ts != nil {
		opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	}
	users, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create userinfo service: %w", err)
	}
	drv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create drive service: %w", err)
	}
	sh, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: create sheets service: %w", err)
	}
	return &Client{ts: ts, users: users, drive: drv, sheets: sh}, nil
}

// Token returns the current, possibly refreshed, OAuth token.
func (c *Client) Token() (*oauth2.Token, error) {
	if c.ts == nil {
		return nil, errors.New("google: client has no token source")
	}
	return c.ts.Token()
}

// UserInfo returns the signed-in user's profile.
func (c *Client) UserInfo(ctx context.Context) (User, error) {
	info, err := c.users.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return User{}, fmt.Errorf("google: get userinfo: %w", err)
	}
	return User{ID: info.Id, Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}

// ListSpreadsheets returns the user's Google Sheets, most recently modified
// first. Sheets not created by Ekho are only visible when the token carries
// the drive.metadata.readonly (or a broader Drive) scope.
func (c *Client) ListSpreadsheets(ctx context.Context) ([]File, error) {
	call := c.drive.Files.List().
		Q(fmt.Sprintf("mimeType='%s' and trashed=false", MIMESpreadsheet)).
		Fields("nextPageToken", "files(id,name,modifiedTime)").
		OrderBy("modifiedTime desc").
		PageSize(100)

	var files []File
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			files = append(files, toFile(f))
			if len(files) >= maxListed {
				return errListFull
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errListFull) {
		return nil, fmt.Errorf("google: list spreadsheets: %w", err)
	}
	return files, nil
}

// ReadRows returns the cell values of rng in spreadsheetID as strings. Empty
// trailing cells are omitted by the API, so rows may have varying widths.
func (c *Client) ReadRows(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	if spreadsheetID == "" {
		return nil, errors.New("google: spreadsheet id must not be empty")
	}
	if rng == "" {
		rng = DefaultRange
	}
	vr, err := c.sheets.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: read %s!%s: %w", spreadsheetID, rng, err)
	}

	rows := make([][]string, 0, len(vr.Values))
	for _, row := range vr.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			if s, ok := v.(string); ok {
				cells[i] = s
			} else if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// UploadSpreadsheet stores a CSV or XLSX file in the user's Drive. With
// convert set, Drive converts it into a Google Sheet.
func (c *Client) UploadSpreadsheet(ctx context.Context, name string, r io.Reader, convert bool) (File, error) {
	ct := contentType(name)
	meta := &drive.File{Name: filepath.Base(name)}
	if convert {
		meta.MimeType = MIMESpreadsheet
	}

	f, err := c.drive.Files.Create(meta).
		Media(r, googleapi.ContentType(ct)).
		Fields("id", "name", "modifiedTime").
		Context(ctx).
		Do()
	if err != nil {
		return File{}, fmt.Errorf("google: upload %q: %w", meta.Name, err)
	}
	return toFile(f), nil
}

// StatusCode returns the HTTP status of a Google API error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return MIMECSV
	case ".xlsx":
		return MIMEXLSX
	}
	return "application/octet-stream"
}

func toFile(f *drive.File) File {
	out := File{ID: f.Id, Name: f.Name}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		out.ModifiedTime = t
	}
	return out
}
