package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"workspaceCollab/backend/internal/client"
	"workspaceCollab/backend/internal/docsync"
	"workspaceCollab/backend/internal/httpapi/middleware"
	"workspaceCollab/backend/internal/protocol"
)

// collab_client 是联调用的命令行客户端：加入工作区，打印在线成员和文档变更。
func main() {
	var (
		wsURL     = pflag.String("url", "ws://127.0.0.1:3003/collab/ws", "hub websocket url")
		token     = pflag.String("token", "", "access token")
		secret    = pflag.String("secret", "", "sign a dev token with this secret when --token is empty")
		userID    = pflag.String("user", "", "user id for the dev token")
		workspace = pflag.String("workspace", "", "workspace to join")
		status    = pflag.String("status", "", "presence status to announce (online|away|offline)")
		docID     = pflag.String("doc", "", "document to open")
		edit      = pflag.String("edit", "", "content to submit once to --doc")
		debounce  = pflag.Duration("debounce", docsync.DefaultDebounce, "local edit debounce")
	)
	pflag.Parse()

	if *workspace == "" {
		fmt.Fprintln(os.Stderr, "--workspace is required")
		pflag.Usage()
		os.Exit(2)
	}
	if *token == "" && *secret != "" && *userID != "" {
		t, _, err := middleware.SignAccessToken([]byte(*secret), *userID, *userID, time.Hour)
		if err != nil {
			log.Fatalf("sign dev token: %v", err)
		}
		*token = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := client.Dial(ctx, client.Config{
		URL:       *wsURL,
		Token:     *token,
		Debounce:  *debounce,
		Reconnect: true,
		OnRoster: func(ws string, active []protocol.Session) {
			names := make([]string, 0, len(active))
			for _, s := range active {
				names = append(names, fmt.Sprintf("%s(%s)", s.DisplayName, s.Status))
			}
			log.Printf("[%s] active: %s", ws, strings.Join(names, ", "))
		},
		OnError: func(content string) { log.Printf("hub error: %s", content) },
	})
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer sess.Close()
	log.Printf("connected as user=%s session=%s", sess.UserID(), sess.SessionID())

	if err := sess.Join(*workspace); err != nil {
		log.Fatalf("join: %v", err)
	}
	if *status != "" {
		if err := sess.SetStatus(*workspace, protocol.Status(*status)); err != nil {
			log.Fatalf("set status: %v", err)
		}
	}

	if *docID != "" {
		version, err := fetchVersion(ctx, *wsURL, *token, *docID)
		if err != nil {
			log.Printf("fetch version failed, starting at 1: %v", err)
			version = 1
		}
		doc, err := sess.OpenDocument(*workspace, *docID, client.DocumentOptions{
			Version: version,
			OnApply: func(id string, changes docsync.Patch, v int64) {
				log.Printf("[%s] v%d %s", id, v, changes.Encode())
			},
		})
		if err != nil {
			log.Fatalf("open document: %v", err)
		}
		if *edit != "" {
			p, err := docsync.PatchOf(map[string]any{"content": *edit})
			if err != nil {
				log.Fatalf("build patch: %v", err)
			}
			_ = doc.SubmitLocalEdit(p)
			doc.Flush()
			log.Printf("[%s] sent v%d", *docID, doc.LocalVersion())
		}
	}

	<-ctx.Done()
}

// fetchVersion asks the server for the document's persisted version.
func fetchVersion(ctx context.Context, wsURL, token, documentID string) (int64, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0, err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/documents/" + url.PathEscape(documentID) + "/version"
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("version endpoint returned %s", resp.Status)
	}
	var body struct {
		CurrentVersion int64 `json:"currentVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.CurrentVersion, nil
}
