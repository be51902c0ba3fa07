package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFTPServer accepts uploads and keeps them in memory.
type storeFTPServer struct {
	listener net.Listener
	wg       sync.WaitGroup

	mu    sync.Mutex
	files map[string]string
	user  string
}

func newStoreFTPServer(t *testing.T) *storeFTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &storeFTPServer{listener: ln, files: map[string]string{}}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *storeFTPServer) addr() string { return s.listener.Addr().String() }

func (s *storeFTPServer) close() {
	s.listener.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *storeFTPServer) file(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.files[name]
	return v, ok
}

func (s *storeFTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *storeFTPServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck
	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...) //nolint:errcheck
		w.Flush()                              //nolint:errcheck
	}
	reply("220 ready")

	var data net.Listener
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch strings.ToUpper(cmd) {
		case "USER":
			s.mu.Lock()
			s.user = arg
			s.mu.Unlock()
			reply("331 password required")
		case "PASS":
			reply("230 logged in")
		case "FEAT":
			reply("211-Features:\r\n UTF8\r\n211 End")
		case "TYPE", "OPTS":
			reply("200 ok")
		case "EPSV":
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 no data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "STOR":
			if data == nil {
				reply("425 use EPSV first")
				continue
			}
			reply("150 ok to send")
			dc, err := data.Accept()
			if err != nil {
				reply("425 no data connection")
				continue
			}
			body, _ := io.ReadAll(dc)
			dc.Close()   //nolint:errcheck
			data.Close() //nolint:errcheck
			data = nil
			s.mu.Lock()
			s.files[arg] = string(body)
			s.mu.Unlock()
			reply("226 transfer complete")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUpload_ToDirectory(t *testing.T) {
	srv := newStoreFTPServer(t)
	local := writeTemp(t, "businesses.xlsx", "workbook-bytes")

	u := NewUploader(5*time.Second, nil)
	remote, err := u.Upload(context.Background(), fmt.Sprintf("ftp://partner:secret@%s/drop/", srv.addr()), local)
	require.NoError(t, err)
	assert.Equal(t, "/drop/businesses.xlsx", remote)

	got, ok := srv.file("/drop/businesses.xlsx")
	require.True(t, ok)
	assert.Equal(t, "workbook-bytes", got)
	srv.mu.Lock()
	assert.Equal(t, "partner", srv.user)
	srv.mu.Unlock()
}

func TestUpload_ExplicitFileName(t *testing.T) {
	srv := newStoreFTPServer(t)
	local := writeTemp(t, "out.shp", "points")

	remote, err := NewUploader(0, nil).Upload(context.Background(), fmt.Sprintf("ftp://%s/exports/latest.shp", srv.addr()), local)
	require.NoError(t, err)
	assert.Equal(t, "/exports/latest.shp", remote)
	srv.mu.Lock()
	assert.Equal(t, "anonymous", srv.user)
	srv.mu.Unlock()
}

func TestUpload_Errors(t *testing.T) {
	local := writeTemp(t, "x.xlsx", "x")
	u := NewUploader(time.Second, nil)

	_, err := u.Upload(context.Background(), "http://example.com/drop/", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected ftp scheme")

	_, err = u.Upload(context.Background(), "ftp://example.com", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty path")

	_, err = u.Upload(context.Background(), "ftp://127.0.0.1:19999/drop/", filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open export file")

	_, err = u.Upload(context.Background(), "ftp://127.0.0.1:19999/drop/", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp dial")
}

func TestParseFTPURL_DefaultPort(t *testing.T) {
	target, err := parseFTPURL("ftp://files.example.com/in/")
	require.NoError(t, err)
	assert.Equal(t, "files.example.com:21", target.host)
	assert.Equal(t, "/in/", target.path)
}
