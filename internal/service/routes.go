package service

import "github.com/cerkvenihaxel/ssc-api-sub001/internal/model"

// StaticRouteResolver serves role route metadata from an in-process table.
// Role catalogs are small and change with deployments, not at runtime.
type StaticRouteResolver struct {
	routes   map[string]model.RoleRoutes
	fallback model.RoleRoutes
}

func NewStaticRouteResolver() *StaticRouteResolver {
	return &StaticRouteResolver{
		routes: map[string]model.RoleRoutes{
			"admin": {
				DefaultRoute: "/admin/dashboard",
				Routes:       []string{"/admin/dashboard", "/admin/users", "/admin/audit", "/profile"},
			},
			"operator": {
				DefaultRoute: "/operations",
				Routes:       []string{"/operations", "/reports", "/profile"},
			},
			"member": {
				DefaultRoute: "/home",
				Routes:       []string{"/home", "/profile"},
			},
		},
		fallback: model.RoleRoutes{
			DefaultRoute: "/home",
			Routes:       []string{"/home"},
		},
	}
}

func (r *StaticRouteResolver) RoutesForRole(roleName string) model.RoleRoutes {
	if routes, ok := r.routes[roleName]; ok {
		return routes
	}
	return r.fallback
}
