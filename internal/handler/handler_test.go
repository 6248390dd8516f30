package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitdrive/internal/auth"
	"orbitdrive/internal/blob"
	"orbitdrive/internal/domain"
	"orbitdrive/internal/metastore"
	"orbitdrive/internal/service"
)

// newTestServer поднимает весь HTTP-стек на временных каталогах и
// заглушку сервиса аутентификации, отдающую владельца по токену.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" || token == "bad-token" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": token, "email": token + "@example.com"})
	}))
	t.Cleanup(authSrv.Close)
	auth.InitClient(authSrv.URL)

	store, err := metastore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storage, err := blob.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	treeService := service.NewTreeService(store)
	trashService := service.NewTrashService(store, storage)
	archiveService := service.NewArchiveService(store, storage)
	transferService := service.NewTransferService(store, storage, treeService)

	directoryHandler := NewDirectoryHandler(treeService, trashService, archiveService)
	fileHandler := NewFileHandler(treeService, transferService)
	trashHandler := NewTrashHandler(trashService)

	r := chi.NewRouter()
	r.Get("/directory", directoryHandler.GetDirectory)
	r.Get("/directory/{id}", directoryHandler.GetDirectory)
	r.Post("/directory", directoryHandler.CreateDirectory)
	r.Post("/directory/{parentId}", directoryHandler.CreateDirectory)
	r.Patch("/directory/{id}", directoryHandler.RenameDirectory)
	r.Post("/directory/{id}/move", directoryHandler.MoveEntries)
	r.Delete("/directory/{id}", directoryHandler.DeleteDirectory)
	r.Get("/file/{id}", fileHandler.GetFile)
	r.Post("/file", fileHandler.UploadFile)
	r.Post("/file/{parentId}", fileHandler.UploadFile)
	r.Patch("/file/{id}", fileHandler.RenameFile)
	r.Delete("/file/{id}", fileHandler.DeleteFile)
	r.Route("/trash", func(r chi.Router) {
		r.Get("/", trashHandler.GetTrashItems)
		r.Post("/empty", trashHandler.EmptyTrash)
		r.Post("/{id}/restore", trashHandler.RestoreItem)
		r.Delete("/{id}", trashHandler.PurgeItem)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, headers map[string]string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "user1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func uploadFile(t *testing.T, srv *httptest.Server, parentID, name string, content []byte) domain.File {
	t.Helper()
	url := srv.URL + "/file"
	if parentID != "" {
		url += "/" + parentID
	}
	resp := doRequest(t, http.MethodPost, url, map[string]string{
		"filename":     name,
		"x-file-id":    uuid.NewString(),
		"x-start-byte": "0",
	}, bytes.NewReader(content))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var file domain.File
	decodeJSON(t, resp, &file)
	return file
}

func TestUnauthorizedRequest(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/directory", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "bad-token")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDirectoryLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// Первый GET без id создаёт корень владельца
	resp := doRequest(t, http.MethodGet, srv.URL+"/directory", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rootContent domain.DirectoryContent
	decodeJSON(t, resp, &rootContent)
	assert.True(t, rootContent.Directory.IsRoot())

	resp = doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"docs"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Directory
	decodeJSON(t, resp, &created)
	assert.Equal(t, "docs", created.Name)

	resp = doRequest(t, http.MethodPatch, srv.URL+"/directory/"+created.ID.String(), nil,
		strings.NewReader(`{"newName":"papers"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/directory/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var renamed domain.DirectoryContent
	decodeJSON(t, resp, &renamed)
	assert.Equal(t, "papers", renamed.Directory.Name)
}

func TestUploadThenRangedDownload(t *testing.T) {
	srv := newTestServer(t)

	content := []byte("0123456789abcdefghij")
	file := uploadFile(t, srv, "", "data.bin", content)
	assert.Equal(t, int64(len(content)), file.SizeBytes)

	// Полное скачивание
	resp := doRequest(t, http.MethodGet, srv.URL+"/file/"+file.ID.String()+"?action=download", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, fmt.Sprint(len(content)), resp.Header.Get("X-Total-Size"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Частичное скачивание с середины
	resp = doRequest(t, http.MethodGet, srv.URL+"/file/"+file.ID.String()+"?action=download",
		map[string]string{"Range": "bytes=10-"}, nil)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 10-%d/%d", len(content)-1, len(content)), resp.Header.Get("Content-Range"))
	got, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content[10:], got)
}

func TestDownloadRangeBeyondSize(t *testing.T) {
	srv := newTestServer(t)
	file := uploadFile(t, srv, "", "small.bin", []byte("tiny"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/file/"+file.ID.String()+"?action=download",
		map[string]string{"Range": "bytes=100-"}, nil)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

// Резюм загрузки: второй запрос с корректным offset дозаписывает, с
// некорректным - получает 409 и фактическую длину в x-current-size.
func TestResumableUpload(t *testing.T) {
	srv := newTestServer(t)

	content := bytes.Repeat([]byte("01234567"), 1024)
	transferID := uuid.NewString()

	resp := doRequest(t, http.MethodPost, srv.URL+"/file", map[string]string{
		"filename":     "resume.bin",
		"x-file-id":    transferID,
		"x-start-byte": "0",
	}, bytes.NewReader(content[:4096]))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Неверный offset
	resp = doRequest(t, http.MethodPost, srv.URL+"/file", map[string]string{
		"filename":     "resume.bin",
		"x-file-id":    transferID,
		"x-start-byte": "100",
	}, bytes.NewReader(content[100:]))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "4096", resp.Header.Get("x-current-size"))

	// Верный offset
	resp = doRequest(t, http.MethodPost, srv.URL+"/file", map[string]string{
		"filename":     "resume.bin",
		"x-file-id":    transferID,
		"x-start-byte": "4096",
	}, bytes.NewReader(content[4096:]))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var file domain.File
	decodeJSON(t, resp, &file)
	assert.Equal(t, int64(len(content)), file.SizeBytes)

	resp = doRequest(t, http.MethodGet, srv.URL+"/file/"+file.ID.String()+"?action=download", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// Сценарий из жизни: папка с файлом уходит в корзину, значится там одной
// записью типа directory, после окончательного удаления исчезают и
// метаданные, и блоб.
func TestTrashDeletePurgeScenario(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"A"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dirA domain.Directory
	decodeJSON(t, resp, &dirA)

	file := uploadFile(t, srv, dirA.ID.String(), "x.txt", []byte("contents of x"))

	resp = doRequest(t, http.MethodDelete, srv.URL+"/directory/"+dirA.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/trash/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []domain.TrashEntry
	decodeJSON(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.KindDirectory, entries[0].Kind)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/trash/"+dirA.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/file/"+file.ID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/trash/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries = nil
	decodeJSON(t, resp, &entries)
	assert.Empty(t, entries)
}

func TestRestoreFromTrash(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"keep"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dir domain.Directory
	decodeJSON(t, resp, &dir)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/directory/"+dir.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/trash/"+dir.ID.String()+"/restore", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/directory/"+dir.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// Архив директории: заголовки с агрегатами до тела, корректный zip в теле.
func TestDirectoryArchiveDownload(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"A"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dirA domain.Directory
	decodeJSON(t, resp, &dirA)

	content := bytes.Repeat([]byte("v"), 5000)
	uploadFile(t, srv, dirA.ID.String(), "x.txt", content)

	resp = doRequest(t, http.MethodGet, srv.URL+"/directory/"+dirA.ID.String()+"?action=download", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Equal(t, "5000", resp.Header.Get("X-Total-Size"))
	assert.Equal(t, "1", resp.Header.Get("X-Total-Files"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, len(body) > 0)
}

func TestMoveEntriesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"src"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var src domain.Directory
	decodeJSON(t, resp, &src)

	resp = doRequest(t, http.MethodPost, srv.URL+"/directory", nil,
		strings.NewReader(`{"folderName":"dst"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dst domain.Directory
	decodeJSON(t, resp, &dst)

	file := uploadFile(t, srv, src.ID.String(), "m.txt", []byte("move me"))

	payload := fmt.Sprintf(`{"entries":[{"kind":"file","id":"%s"}]}`, file.ID)
	resp = doRequest(t, http.MethodPost, srv.URL+"/directory/"+dst.ID.String()+"/move", nil,
		strings.NewReader(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/directory/"+dst.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dstContent domain.DirectoryContent
	decodeJSON(t, resp, &dstContent)
	require.Len(t, dstContent.Files, 1)
	assert.Equal(t, file.ID, dstContent.Files[0].ID)

	// Перемещение директории в саму себя отклоняется
	payload = fmt.Sprintf(`{"entries":[{"kind":"directory","id":"%s"}]}`, src.ID)
	resp = doRequest(t, http.MethodPost, srv.URL+"/directory/"+src.ID.String()+"/move", nil,
		strings.NewReader(payload))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOwnersIsolated(t *testing.T) {
	srv := newTestServer(t)

	file := uploadFile(t, srv, "", "secret.txt", []byte("secret"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/file/"+file.ID.String(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "user2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("bytes=100-")
	require.NoError(t, err)
	assert.Equal(t, int64(100), start)
	assert.Equal(t, int64(-1), end)

	start, end, err = parseRange("bytes=5-9")
	require.NoError(t, err)
	assert.Equal(t, int64(5), start)
	assert.Equal(t, int64(9), end)

	start, end, err = parseRange("bytes=-200")
	require.NoError(t, err)
	assert.Equal(t, int64(-200), start)
	assert.Equal(t, int64(-1), end)

	for _, bad := range []string{"items=0-1", "bytes=9-5", "bytes=0-1,5-6", "bytes=a-b", "bytes=-"} {
		_, _, err := parseRange(bad)
		assert.Error(t, err, "header %q", bad)
	}
}
