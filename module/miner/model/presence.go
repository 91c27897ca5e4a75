package model

import "time"

// MinerPresence 矿机在线记录（redis hash）
type MinerPresence struct {
	ClientID   string    `redis:"client_id" json:"clientId"`
	ConnID     string    `redis:"conn_id" json:"connId"`
	LoginName  string    `redis:"login_name" json:"loginName"`
	NodeID     string    `redis:"node_id" json:"nodeId"`
	Since      time.Time `redis:"-" json:"since"`
	LastActive time.Time `redis:"-" json:"lastActive"`
}
