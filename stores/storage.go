package stores

import (
	"os"
	"triphub-server/core"
	"triphub-server/stores/memory"
	"triphub-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is the union of every persistence contract the handlers depend on.
type Store interface {
	core.GroupStore
	core.MessageStore
	core.TripStore
	core.ExpenseStore
	core.RoomRegistry
	Close() error
}

func GetStore() Store {
	storageType := os.Getenv("STORAGE_TYPE")
	var store Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "triphub.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
