package handlers

import (
	"time"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/service"
)

type userView struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"displayName"`
}

type adminView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type impersonationView struct {
	IsImpersonation bool      `json:"isImpersonation"`
	OriginalAdmin   adminView `json:"originalAdmin"`
}

type principalResponse struct {
	User          userView           `json:"user"`
	Impersonation *impersonationView `json:"impersonation"`
}

// sessionResponse carries the access token for bearer clients. The refresh
// token is only ever sent as a cookie.
type sessionResponse struct {
	principalResponse
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

func principalView(p domain.Principal) principalResponse {
	out := principalResponse{User: userView{
		ID:          p.UserID,
		Username:    p.Username,
		Role:        p.Role,
		DisplayName: p.DisplayName,
	}}
	if p.Impersonation != nil {
		out.Impersonation = &impersonationView{
			IsImpersonation: true,
			OriginalAdmin: adminView{
				ID:   p.Impersonation.OriginalAdminID,
				Name: p.Impersonation.OriginalAdminName,
			},
		}
	}
	return out
}

func sessionView(s *service.Session) sessionResponse {
	return sessionResponse{
		principalResponse: principalView(s.Principal),
		AccessToken:       s.Pair.AccessToken,
		AccessExpiresAt:   s.Pair.AccessExpiresAt,
	}
}
