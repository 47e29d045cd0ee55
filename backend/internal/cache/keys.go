package cache

import "fmt"

// 键语义：
// - roomKey(wsID):      工作区在线会话（ZSet<sessionId, expireAtUnix>，score=expireAt）
// - sessionsKey(wsID):  sessionId -> Session JSON（Hash）
// - workspacesKey():    有人在线的工作区索引（Set<wsID>）
// - versionKey(docID):  文档 currentVersion 缓存（String）
//
// {ws:%s} 作为 hash tag，保证同一工作区的键落在同一个 slot，Lua 脚本才能在集群下执行。

const (
	keyRoomFmt       = "presence:ws:{ws:%s}"          // ZSet<sessionId, expireAtUnix>
	keySessionsFmt   = "presence:ws:sessions:{ws:%s}" // Hash<sessionId -> json>
	keyWorkspacesSet = "presence:workspaces"          // Set<wsID>
	keyVersionFmt    = "doc:version:{doc:%s}"
)

func roomKey(workspaceID string) string     { return fmt.Sprintf(keyRoomFmt, workspaceID) }
func sessionsKey(workspaceID string) string { return fmt.Sprintf(keySessionsFmt, workspaceID) }
func workspacesKey() string                 { return keyWorkspacesSet }
func versionKey(documentID string) string   { return fmt.Sprintf(keyVersionFmt, documentID) }
