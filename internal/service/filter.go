package service

import (
	"strings"

	"github.com/bigkaa/character-module/internal/domain/model"
	"github.com/bigkaa/character-module/internal/rmclient"
)

// Политика отбора: живые люди с Земли. Сравнение с учётом регистра.
const (
	acceptedSpecies     = "Human"
	acceptedStatus      = "Alive"
	acceptedOriginMatch = "Earth"
)

// Accept сообщает, попадает ли запись внешнего API в локальное хранилище.
func Accept(c rmclient.Character) bool {
	return c.Species == acceptedSpecies &&
		c.Status == acceptedStatus &&
		strings.Contains(c.Origin.Name, acceptedOriginMatch)
}

// Transform переводит запись внешнего API в локальную модель:
// вложенный origin сворачивается до названия.
func Transform(c rmclient.Character) model.Character {
	return model.Character{
		ID:      c.ID,
		Name:    c.Name,
		Status:  c.Status,
		Species: c.Species,
		Origin:  c.Origin.Name,
	}
}
