package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/cdflabs/stt-api/internal/types"
)

// DriveArchive mirrors completed transcripts to a Google Drive folder.
// Optional: the service runs fine without it and jobs never fail because
// an archive upload failed.
type DriveArchive struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveArchive creates a Drive client from an OAuth credentials file and
// a previously saved token. Unlike an interactive tool, a server cannot run
// the browser consent flow, so a missing token is an error.
func NewDriveArchive(credentialsFile, tokenFile, folderName string) (*DriveArchive, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token (run the authorization flow first): %w", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create Drive service: %w", err)
	}

	da := &DriveArchive{service: srv, folderName: folderName}
	if err := da.ensureFolder(); err != nil {
		return nil, err
	}
	return da, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ensureFolder finds or creates the archive folder.
func (da *DriveArchive) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		da.folderName)

	r, err := da.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("search for folder: %w", err)
	}

	if len(r.Files) > 0 {
		da.folderID = r.Files[0].Id
		return nil
	}

	folder, err := da.service.Files.Create(&drive.File{
		Name:     da.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	da.folderID = folder.Id
	return nil
}

// Upload stores the transcript text in the archive folder and returns the
// file's web view link.
func (da *DriveArchive) Upload(requestName, jobID string, result *types.TranscriptionResult) (string, error) {
	name := fmt.Sprintf("%s_%s.txt", SanitizeFilename(requestName), jobID)

	file, err := da.service.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{da.folderID},
	}).Media(strings.NewReader(result.Text)).Fields("id, webViewLink").Do()
	if err != nil {
		return "", fmt.Errorf("upload transcript: %w", err)
	}

	return file.WebViewLink, nil
}
