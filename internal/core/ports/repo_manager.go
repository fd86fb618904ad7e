package ports

import "github.com/ArkLabsHQ/coinflip/internal/core/domain"

type RepoManager interface {
	Events() domain.GameEventRepository
	Secrets() domain.SecretRepository
	Close()
}
