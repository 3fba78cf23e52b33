package model

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=100,password"`
	Role     string `json:"role" validate:"omitempty,oneof=ADMIN EDITOR USER"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=100"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
