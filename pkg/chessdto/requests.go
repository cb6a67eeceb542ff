package chessdto

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest accepts either a username or an email.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Message string   `json:"message"`
	User    *Profile `json:"user"`
	Token   string   `json:"token"`
}

// CreateGameRequest carries the mode under either key; gameMode is what the
// original web client sends.
type CreateGameRequest struct {
	Mode        string `json:"mode"`
	GameMode    string `json:"gameMode"`
	Friend      string `json:"friend"`
	TimeControl string `json:"timeControl"`
}

type MoveRequest struct {
	Move     string `json:"move"`
	PlayerID string `json:"playerId"`
}
