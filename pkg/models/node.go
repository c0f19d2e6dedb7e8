package models

import "time"

// SSHAuthType selects how to authenticate against a node
type SSHAuthType string

const (
	SSHAuthPassword   SSHAuthType = "password"
	SSHAuthPrivateKey SSHAuthType = "private_key"
)

// SSHNode is a user-registered server reachable over SSH.
type SSHNode struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	Name               string      `json:"name"`
	Description        string      `json:"description,omitempty"`
	SSHEnabled         bool        `json:"ssh_enabled"`
	SSHHost            string      `json:"ssh_host"`
	SSHPort            int         `json:"ssh_port"`
	SSHUsername        string      `json:"ssh_username"`
	SSHAuthType        SSHAuthType `json:"ssh_auth_type"`
	SSHPassword        string      `json:"-"`
	SSHPrivateKey      string      `json:"-"`
	SSHPassphrase      string      `json:"-"`
	SSHRequireApproval bool        `json:"ssh_require_approval"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// SSHOperationLog records every command run against a node, whatever the
// actor or outcome.
type SSHOperationLog struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id,omitempty"`
	ActorType string    `json:"actor_type"` // "user", "assistant", "system"
	Source    string    `json:"source"`     // "manual", "takeover", "ai", "approval", "monitor", "overview"
	Command   string    `json:"command"`
	Output    string    `json:"output,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalStatus is the decision state of a pending SSH command
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// SSHCommandApproval is an AI-issued command parked until the user decides.
type SSHCommandApproval struct {
	ID                    string         `json:"id"`
	NodeID                string         `json:"node_id"`
	UserID                string         `json:"user_id"`
	SessionID             string         `json:"session_id"`
	Command               string         `json:"command"`
	Status                ApprovalStatus `json:"status"`
	Reason                string         `json:"reason,omitempty"` // set on rejection
	RequestedByToolCallID string         `json:"requested_by_tool_call_id,omitempty"`
	DecidedAt             *time.Time     `json:"decided_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// NodeHealth classifies an overview probe
type NodeHealth string

const (
	NodeHealthy  NodeHealth = "healthy"
	NodeWarning  NodeHealth = "warning"
	NodeCritical NodeHealth = "critical"
)

// OverviewMetric is one derived measurement with its own health rating.
type OverviewMetric struct {
	Name   string     `json:"name"`
	Value  string     `json:"value"`
	Status NodeHealth `json:"status"`
}

// NodeOverview is the parsed result of the multi-probe health command.
type NodeOverview struct {
	NodeID         string            `json:"node_id"`
	NodeName       string            `json:"node_name"`
	CheckedAt      time.Time         `json:"checked_at"`
	Status         NodeHealth        `json:"status"`
	Summary        string            `json:"summary"`
	Hostname       string            `json:"hostname,omitempty"`
	OSName         string            `json:"os_name,omitempty"`
	Kernel         string            `json:"kernel,omitempty"`
	Uptime         string            `json:"uptime,omitempty"`
	LoadAverage    string            `json:"load_average,omitempty"`
	MemoryTotal    string            `json:"memory_total,omitempty"`
	MemoryUsed     string            `json:"memory_used,omitempty"`
	MemoryFree     string            `json:"memory_free,omitempty"`
	DiskTotal      string            `json:"disk_total,omitempty"`
	DiskUsed       string            `json:"disk_used,omitempty"`
	DiskUsePercent string            `json:"disk_use_percent,omitempty"`
	Metrics        []*OverviewMetric `json:"metrics"`
	RawOutput      string            `json:"raw_output,omitempty"`
}
