package postgres

// Selected ids are cast to text so scanning does not depend on how the
// driver decodes uuid. Filters compare the uuid columns against bound
// parameters, which keeps the primary key indexes usable.

const changedFilmIDsQuery = `
SELECT DISTINCT fw.id::text AS id
FROM content.film_work fw
LEFT JOIN content.person_film_work pfw ON pfw.film_work_id = fw.id
LEFT JOIN content.person pr ON pr.id = pfw.person_id
LEFT JOIN content.genre_film_work gfw ON gfw.film_work_id = fw.id
LEFT JOIN content.genre gn ON gn.id = gfw.genre_id
WHERE GREATEST(fw.modified, pr.modified, gn.modified) > ?
ORDER BY id`

const filmRowsQuery = `
SELECT
    fw.id::text,
    fw.title,
    fw.description,
    fw.rating,
    fw.type,
    pr.id::text,
    pr.full_name,
    pfw.role,
    gn.id::text,
    gn.name
FROM content.film_work fw
LEFT JOIN content.person_film_work pfw ON pfw.film_work_id = fw.id
LEFT JOIN content.person pr ON pr.id = pfw.person_id
LEFT JOIN content.genre_film_work gfw ON gfw.film_work_id = fw.id
LEFT JOIN content.genre gn ON gn.id = gfw.genre_id
WHERE fw.id IN ?
ORDER BY fw.id`

const personRowsQuery = `
SELECT
    pr.id::text,
    pr.full_name,
    pfw.role,
    fw.id::text,
    fw.title
FROM content.person pr
LEFT JOIN content.person_film_work pfw ON pfw.person_id = pr.id
LEFT JOIN content.film_work fw ON fw.id = pfw.film_work_id
WHERE pr.id IN ?
ORDER BY pr.id`

const genreRowsQuery = `
SELECT
    gn.id::text,
    gn.name,
    fw.id::text,
    fw.title
FROM content.genre gn
LEFT JOIN content.genre_film_work gfw ON gfw.genre_id = gn.id
LEFT JOIN content.film_work fw ON fw.id = gfw.film_work_id
WHERE gn.id IN ?
ORDER BY gn.id`
