// Package orm maps FileMaker layouts onto declared Go models.
//
// A Model describes the fields of one layout: each field has an accessor
// name used in Go code, the FileMaker field name behind it, and a codec
// from pkg/field that converts between Go values and the wire form. A
// Manager binds a Model to a client.Client and is the entry point for
// reading and writing records:
//
//	people := orm.MustDefine("People", orm.Fields{
//		"name": orm.Text("FullName"),
//		"age":  orm.Int("Age"),
//	})
//	mgr := orm.NewManager(c, people)
//	adults, err := mgr.Query().
//		Find(orm.GTE("age", 18)).
//		OrderBy("name").
//		Execute(ctx)
//
// Queries are built immutably: every builder method returns a new Query,
// so variants can branch from a common base. Execution is lazy. A
// FoundSet pulls pages from the server only as far as the caller indexes
// into it, caching every record it has seen.
package orm
