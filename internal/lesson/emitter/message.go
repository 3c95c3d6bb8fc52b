package emitter

import "time"

type MessageType string

const (
	TypeComponent  MessageType = "component"
	TypeProgress   MessageType = "progress"
	TypeThinking   MessageType = "thinking"
	TypeImageReady MessageType = "image_ready"
	TypeComplete   MessageType = "complete"
	TypeError      MessageType = "error"
)

type Action string

const (
	ActionReplace Action = "replace"
	ActionAppend  Action = "append"
	ActionUpdate  Action = "update"
)

// Message is one protocol unit pushed to the client.
type Message struct {
	Type      MessageType `json:"type"`
	Action    Action      `json:"action,omitempty"`
	TargetID  string      `json:"targetId,omitempty"`
	Component *Node       `json:"component,omitempty"`
	Content   string      `json:"content,omitempty"`
	Message   string      `json:"message,omitempty"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	ImageID   string      `json:"imageId,omitempty"`
	Code      string      `json:"code,omitempty"`
	Seq       int64       `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
}

// Droppable messages may be discarded by a sink whose consumer is behind.
func (m Message) Droppable() bool {
	return m.Type == TypeProgress || m.Type == TypeThinking
}

func (m Message) Terminal() bool {
	return m.Type == TypeComplete || m.Type == TypeError
}

// Node is one element of the client UI tree. IDs are unique within a tree.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Children []*Node        `json:"children,omitempty"`
	Audio    *AudioBinding  `json:"audio,omitempty"`
}

// AudioBinding attaches narration or sound effects to a node.
type AudioBinding struct {
	TTSURL         string `json:"ttsUrl,omitempty"`
	TTSText        string `json:"ttsText,omitempty"`
	AutoPlay       bool   `json:"autoPlay,omitempty"`
	DelayMs        int    `json:"delayMs,omitempty"`
	ClickEffect    string `json:"clickEffect,omitempty"`
	CorrectEffect  string `json:"correctEffect,omitempty"`
	WrongEffect    string `json:"wrongEffect,omitempty"`
	CompleteEffect string `json:"completeEffect,omitempty"`
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{ID: n.ID, Type: n.Type, Props: cloneProps(n.Props)}
	if n.Audio != nil {
		a := *n.Audio
		out.Audio = &a
	}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, 0, len(n.Children))
		for _, c := range n.Children {
			if c != nil {
				out.Children = append(out.Children, c.Clone())
			}
		}
	}
	return out
}

func cloneProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneProps(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = cloneProps(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
