// Package googleauth obtains Google credentials for the Sheets and Drive
// stores: user tokens through an OAuth consent flow, or service accounts
// for unattended use.
package googleauth

import (
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/sheets/v4"
)

// DefaultScopes covers reading and writing spreadsheets, creating photo
// files and reading the signed-in user's profile.
var DefaultScopes = []string{
	sheets.SpreadsheetsScope,
	drive.DriveFileScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
}
