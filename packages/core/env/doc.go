// Package env supplies values for {{placeholder}} interpolation in request
// files.
//
// Values come from:
//   - .env files (LoadDotEnv, LoadAndExportDotEnv)
//   - variables set on the Resolver, such as a request file's vars block or
//     --var flags
//   - the process environment, as {{$NAME}}
//   - generator functions, as {{uuid()}} or {{timestamp()}}
package env
