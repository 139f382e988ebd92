package googledrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
)

var (
	queryNameRe   = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	queryParentRe = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
)

type fakeFile struct {
	name    string
	parent  string
	mime    string
	data    []byte
	public  bool
	created time.Time
}

// fakeDrive emulates the Drive v3 endpoints the store calls.
type fakeDrive struct {
	mu    sync.Mutex
	url   string
	files map[string]*fakeFile
	next  int

	lists       int
	folderMakes int
	multiparts  int
	resumables  int
	sessions    map[string]*fakeFile

	// failMultipart answers multipart uploads with 500; keepOnFail still
	// stores the file first, like an upload that timed out late.
	failMultipart bool
	keepOnFail    bool
	failShare     bool
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: make(map[string]*fakeFile), sessions: make(map[string]*fakeFile)}
}

func (d *fakeDrive) addFolder(id, name, parent string) {
	d.files[id] = &fakeFile{name: name, parent: parent, mime: folderMimeType, created: time.Now()}
}

func (d *fakeDrive) start(t *testing.T, config Config) *Store {
	t.Helper()
	server := httptest.NewServer(d)
	t.Cleanup(server.Close)
	d.url = server.URL

	store, err := NewStore(context.Background(), config,
		option.WithEndpoint(server.URL+"/drive/v3/"), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func (d *fakeDrive) file(id string) *fakeFile {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[id]
}

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/drive/v3/files" && r.Method == http.MethodGet:
		d.list(w, r)
	case path == "/drive/v3/files" && r.Method == http.MethodPost:
		d.createFolder(w, r)
	case path == "/upload/drive/v3/files" && r.URL.Query().Get("uploadType") == "multipart":
		d.multipart(w, r)
	case path == "/upload/drive/v3/files" && r.URL.Query().Get("uploadType") == "resumable":
		d.startSession(w, r)
	case strings.HasPrefix(path, "/upload/session/") && r.Method == http.MethodPut:
		d.finishSession(w, r, strings.TrimPrefix(path, "/upload/session/"))
	case strings.HasPrefix(path, "/drive/v3/files/") && strings.HasSuffix(path, "/permissions"):
		d.share(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/drive/v3/files/"), "/permissions"))
	case strings.HasPrefix(path, "/drive/v3/files/"):
		d.fileOp(w, r, strings.TrimPrefix(path, "/drive/v3/files/"))
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	d.lists++
	q := r.URL.Query().Get("q")
	name := unescapeQuery(firstGroup(queryNameRe, q))
	parent := unescapeQuery(firstGroup(queryParentRe, q))
	wantFolder := strings.Contains(q, "mimeType='"+folderMimeType+"'")

	var out []map[string]string
	for id, f := range d.files {
		if f.name != name || f.parent != parent || (wantFolder && f.mime != folderMimeType) {
			continue
		}
		out = append(out, map[string]string{"id": id, "name": f.name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": out})
}

func (d *fakeDrive) createFolder(w http.ResponseWriter, r *http.Request) {
	var meta struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d.folderMakes++
	id := d.newID("folder")
	d.files[id] = &fakeFile{name: meta.Name, parent: meta.Parents[0], mime: meta.MimeType, created: time.Now()}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "name": meta.Name})
}

func (d *fakeDrive) multipart(w http.ResponseWriter, r *http.Request) {
	d.multiparts++
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := decodeMeta(metaPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.data, _ = io.ReadAll(mediaPart)

	if d.failMultipart {
		if d.keepOnFail {
			d.files[d.newID("file")] = f
		}
		writeError(w, http.StatusInternalServerError, "backend error")
		return
	}
	id := d.newID("file")
	d.files[id] = f
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (d *fakeDrive) startSession(w http.ResponseWriter, r *http.Request) {
	d.resumables++
	f, err := decodeMeta(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session := fmt.Sprintf("s%d", d.resumables)
	d.sessions[session] = f
	w.Header().Set("Location", d.url+"/upload/session/"+session)
	w.WriteHeader(http.StatusOK)
}

func (d *fakeDrive) finishSession(w http.ResponseWriter, r *http.Request, session string) {
	f, ok := d.sessions[session]
	if !ok {
		writeError(w, http.StatusNotFound, "no such session")
		return
	}
	delete(d.sessions, session)
	f.data, _ = io.ReadAll(r.Body)
	id := d.newID("file")
	d.files[id] = f
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (d *fakeDrive) share(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := d.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	if d.failShare {
		writeError(w, http.StatusForbidden, "sharing disabled")
		return
	}
	var perm struct {
		Role string `json:"role"`
		Type string `json:"type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&perm)
	f.public = perm.Role == "reader" && perm.Type == "anyone"
	writeJSON(w, http.StatusOK, map[string]string{"id": "anyoneWithLink", "role": perm.Role, "type": perm.Type})
}

func (d *fakeDrive) fileOp(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := d.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		w.Header().Set("Content-Type", f.mime)
		_, _ = w.Write(f.data)
	case r.Method == http.MethodDelete:
		delete(d.files, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *fakeDrive) newID(prefix string) string {
	d.next++
	return fmt.Sprintf("%s%03d", prefix, d.next)
}

func decodeMeta(r io.Reader) (*fakeFile, error) {
	var meta struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return nil, err
	}
	f := &fakeFile{name: meta.Name, mime: meta.MimeType, created: time.Now()}
	if len(meta.Parents) > 0 {
		f.parent = meta.Parents[0]
	}
	return f, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

func unescapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\'`, `'`)
	return strings.ReplaceAll(v, `\\`, `\`)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": map[string]any{"code": code, "message": msg}})
}
