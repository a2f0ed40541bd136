package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bmirror/internal/mirror"
)

// fakeBSpace serves a CAS login form and a small Sakai installation that
// only answers requests carrying the session cookie.
func fakeBSpace(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var ts *httptest.Server

	mux.HandleFunc("/cas/login", func(w http.ResponseWriter, r *http.Request) {
		service := r.URL.Query().Get("service")
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<html><form method="post">
<input type="text" name="username"/><input type="password" name="password"/>
<input type="hidden" name="lt" value="LT-42"/>
<input type="hidden" name="_eventId" value="submit"/></form></html>`)
			return
		}
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("lt") != "LT-42" || r.PostForm.Get("username") != "oski" || r.PostForm.Get("password") != "go bears" {
			fmt.Fprint(w, `<html>bad credentials</html>`)
			return
		}
		http.Redirect(w, r, service+"?ticket=ST-1", http.StatusFound)
	})
	mux.HandleFunc("/sakai-login-tool/container", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/portal", http.StatusFound)
	})
	mux.HandleFunc("/portal", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "portal")
	})

	authed := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("JSESSIONID"); err != nil || c.Value != "abc" {
				http.Error(w, "login required", http.StatusForbidden)
				return
			}
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/direct/site.json", authed(`{"site_collection": [
		{"id": "s1", "entityTitle": "CS 61A"},
		{"id": "s2", "entityTitle": "Physics 7B"}
	]}`))
	mux.HandleFunc("/direct/site/s1/pages.json", authed(`[{"title": "Home"}]`))
	mux.HandleFunc("/direct/assignment/site/s1.json", func(w http.ResponseWriter, r *http.Request) {
		authed(fmt.Sprintf(`{"assignment_collection": [
			{"title": "HW1", "attachments": [{"url": "%s/attach/hw1.pdf", "name": "hw1.pdf"}]}
		]}`, ts.URL))(w, r)
	})
	mux.HandleFunc("/direct/assignment/site/s2.json", authed(`{"assignment_collection": []}`))
	mux.HandleFunc("/access/content/group/s1/", authed(`<ul>
<li class="upfolder"><a href="../">Up</a></li>
<li class="folder"><a href="Lectures/">Lectures</a></li>
<li class="file"><a href="syllabus.pdf">Syllabus</a></li>
</ul>`))
	mux.HandleFunc("/access/content/group/s1/Lectures/", authed(`<ul><li class="file"><a href="l1.pdf">Lecture 1</a></li></ul>`))
	mux.HandleFunc("/access/content/group/s1/syllabus.pdf", authed("syllabus bytes"))
	mux.HandleFunc("/access/content/group/s1/Lectures/l1.pdf", authed("lecture bytes"))
	mux.HandleFunc("/access/content/group/s2/", authed(`<ul></ul>`))
	mux.HandleFunc("/attach/hw1.pdf", authed("hw1 bytes"))

	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

type run struct {
	stdout, stderr bytes.Buffer
}

func execute(t *testing.T, stdin string, args ...string) (*run, error) {
	t.Helper()
	r := &run{}
	a := &app{stdin: strings.NewReader(stdin), stdout: &r.stdout, stderr: &r.stderr, plain: true}
	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--env", ""}, args...))
	return r, cmd.ExecuteContext(context.Background())
}

func writeConfig(t *testing.T, ts *httptest.Server, withCreds bool) (cfgPath, out string) {
	t.Helper()
	dir := t.TempDir()
	out = filepath.Join(dir, "mirror")
	cfg := map[string]any{
		"casLogin":  ts.URL + "/cas/login",
		"base":      ts.URL,
		"outputDir": out,
	}
	if withCreds {
		cfg["username"] = "oski"
		cfg["password"] = "go bears"
	}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	cfgPath = filepath.Join(dir, "bmirror.json")
	require.NoError(t, os.WriteFile(cfgPath, b, 0o600))
	return cfgPath, out
}

func TestSites(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, true)

	r, err := execute(t, "", "--config", cfg, "sites")
	require.NoError(t, err, r.stderr.String())
	assert.Contains(t, r.stdout.String(), "CS 61A")
	assert.Contains(t, r.stdout.String(), "Physics 7B")
}

func TestCredentialsPrompt(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, false)

	r, err := execute(t, "oski\ngo bears\n", "--config", cfg, "sites")
	require.NoError(t, err, r.stderr.String())
	assert.Contains(t, r.stderr.String(), "CalNet ID:")
	assert.Contains(t, r.stdout.String(), "CS 61A")
}

func TestBadCredentials(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, false)

	_, err := execute(t, "oski\nwrong\n", "--config", cfg, "sites")
	assert.ErrorContains(t, err, "login")
}

func TestDownloadAndVerify(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, out := writeConfig(t, ts, true)

	r, err := execute(t, "", "--config", cfg, "download", "CS 61A")
	require.NoError(t, err, r.stderr.String())

	read := func(parts ...string) string {
		b, err := os.ReadFile(filepath.Join(append([]string{out}, parts...)...))
		require.NoError(t, err)
		return string(b)
	}
	assert.Equal(t, "hw1 bytes", read("CS 61A", "assignments", "hw1.pdf"))
	assert.Equal(t, "syllabus bytes", read("CS 61A", "resources - CS 61A", "syllabus.pdf"))
	assert.Equal(t, "lecture bytes", read("CS 61A", "resources - CS 61A", "Lectures", "l1.pdf"))
	assert.NoDirExists(t, filepath.Join(out, "Physics 7B"))
	assert.Contains(t, r.stdout.String(), "3 files")

	m, err := mirror.LoadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	r, err = execute(t, "", "--config", cfg, "verify")
	require.NoError(t, err, r.stdout.String())
	assert.Contains(t, r.stdout.String(), "3 files checked, 3 ok, 0 problems")

	require.NoError(t, os.WriteFile(filepath.Join(out, "CS 61A", "assignments", "hw1.pdf"), []byte("tampered"), 0o644))
	r, err = execute(t, "", "--config", cfg, "verify")
	assert.Error(t, err)
	assert.Contains(t, r.stdout.String(), "modified\tCS 61A/assignments/hw1.pdf")
}

func TestDownloadAllSites(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, out := writeConfig(t, ts, true)

	r, err := execute(t, "", "--config", cfg, "--out", filepath.Join(filepath.Dir(out), "elsewhere"), "download")
	require.NoError(t, err, r.stderr.String())
	assert.DirExists(t, filepath.Join(filepath.Dir(out), "elsewhere", "Physics 7B", "assignments"))
	assert.DirExists(t, filepath.Join(filepath.Dir(out), "elsewhere", "Physics 7B", "resources - Physics 7B"))
}

func TestDownloadUnknownSite(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, true)

	_, err := execute(t, "", "--config", cfg, "download", "Chem 1A")
	assert.ErrorContains(t, err, "no such site")
}

func TestTree(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, true)

	r, err := execute(t, "", "--config", cfg, "tree", "0")
	require.NoError(t, err, r.stderr.String())
	for _, want := range []string{"CS 61A", "Home", "HW1", "Lectures/", "Lecture 1 → l1.pdf", "Syllabus → syllabus.pdf"} {
		assert.Contains(t, r.stdout.String(), want)
	}
}

func TestDebugLogsRequests(t *testing.T) {
	ts := fakeBSpace(t)
	cfg, _ := writeConfig(t, ts, true)

	r, err := execute(t, "", "--config", cfg, "--debug", "sites")
	require.NoError(t, err)
	assert.Contains(t, r.stderr.String(), "http request")
	assert.Contains(t, r.stderr.String(), "/direct/site.json")
}

func TestPasswd(t *testing.T) {
	r, err := execute(t, "", "passwd", "-p", "hunter2", "--cost", fmt.Sprint(bcrypt.MinCost))
	require.NoError(t, err)
	h := strings.TrimSpace(r.stdout.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("hunter2")))

	_, err = execute(t, "", "passwd")
	assert.Error(t, err)
}
