// Package rest serves a tree of declared resources as a REST API.
//
// Each resource contributes up to seven routes. Child resources are nested
// below the item path of their parent:
//
//	Operation  | Method | Path
//	-----------|--------|---------------------------------------------------
//	list       | GET    | /customer/{customer_id}/invoice
//	aggregate  | GET    | /customer/{customer_id}/invoice/aggregate/{aggregation_function}/{field}
//	create     | POST   | /customer/{customer_id}/invoice
//	read       | GET    | /customer/{customer_id}/invoice/{invoice_id}
//	patch      | PATCH  | /customer/{customer_id}/invoice/{invoice_id}
//	put        | PUT    | /customer/{customer_id}/invoice/{invoice_id}
//	delete     | DELETE | /customer/{customer_id}/invoice/{invoice_id}
//
// List and aggregate routes accept search parameters derived from the
// resource's fields, e.g. ?status=open&amount__gt=10&search=acme, plus
// limit, offset and order_by.
//
// Objects outside the caller's tenant, or below a different parent than the
// one named in the path, are reported as 404.
//
// HTTP headers control the response:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=minimal         | Return status code only
//	Prefer: return=representation  | Return the written object (default)
//	Prefer: count=exact            | Add the total count in Content-Range
//
// Example usage:
//
//	api := rest.NewAPI(memstore.New(), []*resource.Resource{customer},
//		rest.WithLogger(logger))
//	if err := api.Init(); err != nil {
//		log.Fatal(err)
//	}
//	r := httputil.NewRouter()
//	rest.Mount(r, "/api", api)
//	log.Fatal(r.ListenAndServe(":8080"))
package rest
