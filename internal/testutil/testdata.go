// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/edgeflare/pgcrud/pkg/model"
)

// InvoiceStatuses are the choices of invoice.status.
var InvoiceStatuses = []string{"draft", "sent", "paid", "void"}

// Billing returns a fresh registry of the billing fixture:
//
//	customer 1-n invoice 1-n invoiceitem
//	invoice n-m tag (through invoice_tag)
//	customer n-1 customer (referrer)
func Billing() *model.Registry {
	customer := &model.Model{
		Name: "customer",
		Fields: []*model.Field{
			{Name: "id", Type: model.TypeUUID, PrimaryKey: true, MaxLength: 36},
			{Name: model.TenantField, Type: model.TypeText},
			{Name: "name", Type: model.TypeText, MaxLength: 100},
			{Name: "email", Type: model.TypeText, Nullable: true, MaxLength: 254},
			{Name: "status", Type: model.TypeText, Choices: []string{"active", "archived"}},
			{Name: "credit", Type: model.TypeDecimal},
			{Name: "created", Type: model.TypeDateTime},
			{Name: "referrer", Relation: model.RelationManyToOne, Target: "customer", Nullable: true},
			{Name: "invoices", Relation: model.RelationOneToMany, Target: "invoice", RemoteColumn: "customer_id"},
		},
	}
	invoice := &model.Model{
		Name: "invoice",
		Fields: []*model.Field{
			{Name: "id", Type: model.TypeUUID, PrimaryKey: true, MaxLength: 36},
			{Name: model.TenantField, Type: model.TypeText},
			{Name: "customer", Relation: model.RelationManyToOne, Target: "customer"},
			{Name: "number", Type: model.TypeText, MaxLength: 32},
			{Name: "status", Type: model.TypeText, Choices: InvoiceStatuses},
			{Name: "total", Type: model.TypeDecimal},
			{Name: "issued", Type: model.TypeDate, Nullable: true},
			{Name: "created", Type: model.TypeDateTime},
			{Name: "items", Relation: model.RelationOneToMany, Target: "invoiceitem", RemoteColumn: "invoice_id"},
			{Name: "tags", Relation: model.RelationManyToMany, Target: "tag",
				Through: "invoice_tag", ThroughSource: "invoice_id", ThroughTarget: "tag_id"},
		},
	}
	item := &model.Model{
		Name: "invoiceitem",
		Fields: []*model.Field{
			{Name: "id", Type: model.TypeUUID, PrimaryKey: true, MaxLength: 36},
			{Name: model.TenantField, Type: model.TypeText},
			{Name: "invoice", Relation: model.RelationManyToOne, Target: "invoice"},
			{Name: "description", Type: model.TypeText, MaxLength: 200},
			{Name: "quantity", Type: model.TypeInt},
			{Name: "amount", Type: model.TypeDecimal},
		},
	}
	tag := &model.Model{
		Name: "tag",
		Fields: []*model.Field{
			{Name: "id", Type: model.TypeUUID, PrimaryKey: true, MaxLength: 36},
			{Name: model.TenantField, Type: model.TypeText},
			{Name: "name", Type: model.TypeText, MaxLength: 50},
		},
	}

	reg, err := model.NewRegistry(customer, invoice, item, tag)
	if err != nil {
		panic(err)
	}
	return reg
}

// MustModel returns a model of reg or panics.
func MustModel(reg *model.Registry, name string) *model.Model {
	m, ok := reg.Get(name)
	if !ok {
		panic("testutil: no model " + name)
	}
	return m
}

// ReadFile reads a file relative to this package's directory.
func ReadFile(name string) ([]byte, error) {
	_, currentFile, _, _ := runtime.Caller(0)
	return os.ReadFile(filepath.Join(filepath.Dir(currentFile), name))
}
