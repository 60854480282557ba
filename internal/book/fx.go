package book

import (
	"github.com/smallbiznis/bookvault/internal/book/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("book",
	fx.Provide(repository.Provide),
)
