package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "qb2counter000001",
			"name": "counters",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "qbctname",
					"name": "name",
					"type": "text",
					"required": true,
					"presentable": true
				},
				{
					"id": "qbctbranch",
					"name": "branch",
					"type": "text",
					"required": true,
					"presentable": false
				},
				{
					"id": "qbctservices",
					"name": "services",
					"type": "json",
					"required": false,
					"presentable": false
				}
			],
			"indexes": [],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("qb2counter000001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
