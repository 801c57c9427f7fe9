package ollama

import "context"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

// Complete sends prompt as a single user message to /api/chat and returns
// the reply content.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	req := chatReq{
		Model:    c.cfg.ChatModel,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Options:  chatOptions{Temperature: temperature, NumPredict: maxTokens},
	}
	var resp chatResp
	if err := c.post(ctx, "chat", "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
