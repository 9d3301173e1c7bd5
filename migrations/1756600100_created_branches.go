package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "qb2branch0000001",
			"name": "branches",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "qbbrname",
					"name": "name",
					"type": "text",
					"required": true,
					"presentable": true
				},
				{
					"id": "qbbraddr",
					"name": "address",
					"type": "text",
					"required": false,
					"presentable": false
				},
				{
					"id": "qbbropen",
					"name": "is_open",
					"type": "bool",
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
		collection, err := app.FindCollectionByNameOrId("qb2branch0000001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
