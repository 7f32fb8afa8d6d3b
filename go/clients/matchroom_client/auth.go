package matchroom_client

import "context"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login exchanges credentials for an access token. A 401 here is a failed
// login, not an expired session, so the unauthorized hook never fires.
func (c *MatchRoomClient) Login(ctx context.Context, username, password string) (string, error) {
	var resp LoginResponse
	if err := c.Post(ctx, LoginEndpoint, LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}
