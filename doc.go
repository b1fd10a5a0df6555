/*
n5knossos converts a 3d image volume held in a chunked array container into KNOSSOS cubes.

The conversion has two steps.  First the volume is written as a stack of 2d image slices,
one file per z index, named by the zero-padded index.  Then the external knossos_cuber
tool turns the slice directory into a pyramid of cubes.

Containers

N5 and Zarr v2 containers are supported and may be local directories or held in Google
Cloud Storage (gs://), S3 (s3://) or VAST (vast://) buckets.  The container format is
detected from the dataset's metadata unless -engine is given.

	n5-to-knossos -n5 /data/sample.n5 -dset volumes/raw -png /scratch/png \
		-knossos /data/knossos -config knossos.ini

Slice extraction

The z axis is split into chunks of -chunk_size slices.  Each chunk is read with a single
request and its slices are written concurrently with the other chunks, or one chunk at a
time with -sequential.  Slice files that already exist are skipped, so an interrupted
conversion can be rerun with the same arguments.  Each written slice is decoded again to
verify it; after 10 failed attempts a zero-valued slice of the same size is written and the
failure is logged.

Settings

All flags can also be given in a TOML settings file passed with -settings:

	[logging]
	logfile = "/var/log/n5-to-knossos.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[source]
	container = "gs://my-bucket/sample.n5"
	dataset = "volumes/raw"
	cache_mb = 256

	[extract]
	dir = "/scratch/png"
	chunk_size = 500
	workers = 8
	format = "png"

	[cuber]
	binary = "knossos_cuber"
	config = "knossos.ini"
	output_dir = "/data/knossos"

	[server]
	http = "localhost:8000"

Relative paths are taken relative to the settings file.  With [server] http set, progress
is available as JSON at /status while the conversion runs.
*/
package n5knossos
